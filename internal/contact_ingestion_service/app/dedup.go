package app

import (
	"strings"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
)

// normalizedContact is a raw entry after name trimming and phone normalization.
type normalizedContact struct {
	etag        string
	displayName string
	phones      []string
}

// normalize trims the name and strips whitespace from phone numbers, dropping
// empty and repeated numbers. ok is false for entries with neither a name nor a phone.
func normalize(raw domain.RawContact) (normalizedContact, bool) {
	nc := normalizedContact{etag: raw.Etag, displayName: strings.TrimSpace(raw.DisplayName)}
	seen := make(map[string]struct{}, len(raw.PhoneNumbers))
	for _, number := range raw.PhoneNumbers {
		n := domain.NormalizePhone(number)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		nc.phones = append(nc.phones, n)
	}
	return nc, nc.displayName != "" || len(nc.phones) > 0
}

// deduper keeps the first-seen contact for every (display name, phone) pair.
// Two contacts are the same when the names match and any phone overlaps.
type deduper struct {
	index    map[string]struct{}
	kept     []normalizedContact
	dropped  int
	rejected int
}

func newDeduper() *deduper {
	return &deduper{index: make(map[string]struct{})}
}

func dedupKey(name, phone string) string {
	return name + "\x00" + phone
}

func (d *deduper) add(raw domain.RawContact) {
	nc, ok := normalize(raw)
	if !ok {
		d.rejected++
		return
	}
	for _, phone := range nc.phones {
		if _, hit := d.index[dedupKey(nc.displayName, phone)]; hit {
			d.dropped++
			return
		}
	}
	for _, phone := range nc.phones {
		d.index[dedupKey(nc.displayName, phone)] = struct{}{}
	}
	d.kept = append(d.kept, nc)
}
