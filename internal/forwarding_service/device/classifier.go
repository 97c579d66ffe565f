package device

import (
	"regexp"
	"strings"

	"github.com/vocallabs/golang_services/internal/forwarding_service/domain"
)

// Platform is the closed set of device platforms we branch on.
type Platform string

const (
	PlatformIOS         Platform = "ios"
	PlatformAndroid     Platform = "android"
	PlatformDesktop     Platform = "desktop"
	// PlatformOtherMobile covers feature phones and legacy mobile browsers.
	PlatformOtherMobile Platform = "mobile_other"
)

// Descriptor is what the caller knows about the device.
// PlatformHint, when set to a known platform, wins over the user agent.
type Descriptor struct {
	UserAgent    string
	PlatformHint string
}

// Class is the classified device. Desktop is never mobile, so only mobile
// platforms get dial steps.
type Class struct {
	Platform Platform `json:"platform"`
	IsMobile bool     `json:"is_mobile"`
}

var (
	iosPattern         = regexp.MustCompile(`(?i)iPhone|iPad|iPod`)
	androidPattern     = regexp.MustCompile(`(?i)Android`)
	otherMobilePattern = regexp.MustCompile(`(?i)Opera Mini|IEMobile|WPDesktop`)
)

// Classify is a pure function from a descriptor to a device class.
func Classify(d Descriptor) Class {
	switch Platform(strings.ToLower(strings.TrimSpace(d.PlatformHint))) {
	case PlatformIOS:
		return Class{Platform: PlatformIOS, IsMobile: true}
	case PlatformAndroid:
		return Class{Platform: PlatformAndroid, IsMobile: true}
	case PlatformDesktop:
		return Class{Platform: PlatformDesktop, IsMobile: false}
	case PlatformOtherMobile:
		return Class{Platform: PlatformOtherMobile, IsMobile: true}
	}

	switch {
	case iosPattern.MatchString(d.UserAgent):
		return Class{Platform: PlatformIOS, IsMobile: true}
	case androidPattern.MatchString(d.UserAgent):
		return Class{Platform: PlatformAndroid, IsMobile: true}
	case otherMobilePattern.MatchString(d.UserAgent):
		return Class{Platform: PlatformOtherMobile, IsMobile: true}
	default:
		return Class{Platform: PlatformDesktop, IsMobile: false}
	}
}

// CanDial reports whether the device can place a call itself.
func (c Class) CanDial() bool {
	return c.IsMobile
}

// StepKind is how carrier codes reach the network from this device.
func (c Class) StepKind() domain.StepKind {
	if c.CanDial() {
		return domain.StepDial
	}
	return domain.StepInstruct
}

// AllowedStatuses lists the use-case statuses the device's carrier path supports.
// iOS only supports unconditional forwarding.
func (c Class) AllowedStatuses() []domain.UseCaseStatus {
	if c.Platform == PlatformIOS {
		return []domain.UseCaseStatus{domain.StatusUnconditional}
	}
	return domain.AllStatuses
}

// Allows reports whether status is permitted on this device.
func (c Class) Allows(status domain.UseCaseStatus) bool {
	for _, s := range c.AllowedStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
