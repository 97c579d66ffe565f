package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vocallabs/golang_services/internal/contact_ingestion_service/domain"
)

// --- Mocks ---

// MockContactSource is both the source and the pager it opens.
type MockContactSource struct {
	mock.Mock
	openedWith []string
	openErr    error
}

func (m *MockContactSource) Open(ctx context.Context, accessToken string) (domain.ContactPager, error) {
	m.openedWith = append(m.openedWith, accessToken)
	if m.openErr != nil {
		return nil, m.openErr
	}
	return m, nil
}

func (m *MockContactSource) FetchPage(ctx context.Context, pageToken string, pageSize int) (*domain.ContactPage, error) {
	args := m.Called(ctx, pageToken, pageSize)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ContactPage), args.Error(1)
}

type MockContactStore struct {
	mock.Mock
}

func (m *MockContactStore) SaveBatch(ctx context.Context, records []domain.ContactRecord) (int, error) {
	args := m.Called(ctx, records)
	return args.Int(0), args.Error(1)
}

// --- Test Setup ---

type pipelineTestComponents struct {
	pipeline   *Pipeline
	mockSource *MockContactSource
	mockStore  *MockContactStore
}

func setupPipelineTest(t *testing.T) pipelineTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mockSource := new(MockContactSource)
	mockStore := new(MockContactStore)
	return pipelineTestComponents{
		pipeline:   NewPipeline(mockSource, mockStore, 200, logger),
		mockSource: mockSource,
		mockStore:  mockStore,
	}
}

func distinctContacts(prefix string, n int) []domain.RawContact {
	out := make([]domain.RawContact, n)
	for i := range out {
		out[i] = domain.RawContact{
			Etag:         fmt.Sprintf("%s-etag-%d", prefix, i),
			DisplayName:  fmt.Sprintf("%s contact %d", prefix, i),
			PhoneNumbers: []string{fmt.Sprintf("+91 90000 %s%04d", prefix, i)},
		}
	}
	return out
}

var validRequest = domain.IngestionRequest{ClientID: "client-1", AccessToken: "token"}

// --- Tests ---

func TestPipeline_Run_PaginatesAllPagesIntoOneBatch(t *testing.T) {
	c := setupPipelineTest(t)
	ctx := context.Background()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Return(&domain.ContactPage{Contacts: distinctContacts("1", 200), NextPageToken: "p2"}, nil).Once()
	c.mockSource.On("FetchPage", mock.Anything, "p2", 200).
		Return(&domain.ContactPage{Contacts: distinctContacts("2", 200), NextPageToken: "p3"}, nil).Once()
	c.mockSource.On("FetchPage", mock.Anything, "p3", 200).
		Return(&domain.ContactPage{Contacts: distinctContacts("3", 47)}, nil).Once()

	var saved []domain.ContactRecord
	c.mockStore.On("SaveBatch", mock.Anything, mock.AnythingOfType("[]domain.ContactRecord")).
		Run(func(args mock.Arguments) { saved = args.Get(1).([]domain.ContactRecord) }).
		Return(447, nil).Once()

	result, err := c.pipeline.Run(ctx, validRequest)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pages)
	assert.Equal(t, 447, result.Fetched)
	assert.Equal(t, 447, result.Stored)
	assert.Equal(t, 0, result.Duplicates)
	assert.NotEqual(t, uuid.Nil, result.RunID)

	require.Len(t, saved, 447)
	for _, rec := range saved {
		assert.Equal(t, result.RunID, rec.RunID)
		assert.Equal(t, "client-1", rec.ClientID)
		assert.NotContains(t, rec.PhoneNumbers[0], " ", "stored numbers are normalized")
	}
	c.mockSource.AssertNumberOfCalls(t, "FetchPage", 3)
	assert.Equal(t, []string{"token"}, c.mockSource.openedWith, "the source is opened once per run")
	c.mockStore.AssertExpectations(t)
}

func TestPipeline_Run_DeduplicatesWithinRun(t *testing.T) {
	c := setupPipelineTest(t)
	ctx := context.Background()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).Return(&domain.ContactPage{
		Contacts: []domain.RawContact{
			{DisplayName: "A", PhoneNumbers: []string{"123", "1 2 3"}},
		},
		NextPageToken: "next",
	}, nil).Once()
	c.mockSource.On("FetchPage", mock.Anything, "next", 200).Return(&domain.ContactPage{
		Contacts: []domain.RawContact{
			{DisplayName: "A", PhoneNumbers: []string{"123"}},
		},
	}, nil).Once()
	c.mockStore.On("SaveBatch", mock.Anything, mock.MatchedBy(func(records []domain.ContactRecord) bool {
		return len(records) == 1 &&
			records[0].DisplayName == "A" &&
			assert.ObjectsAreEqual([]string{"123"}, records[0].PhoneNumbers)
	})).Return(1, nil).Once()

	result, err := c.pipeline.Run(ctx, validRequest)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 1, result.Duplicates)
	c.mockStore.AssertExpectations(t)
}

func TestPipeline_Run_PageFailureStoresNothing(t *testing.T) {
	c := setupPipelineTest(t)
	ctx := context.Background()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Return(&domain.ContactPage{Contacts: distinctContacts("1", 200), NextPageToken: "p2"}, nil).Once()
	c.mockSource.On("FetchPage", mock.Anything, "p2", 200).
		Return(nil, errors.New("503 backend error")).Once()

	result, err := c.pipeline.Run(ctx, validRequest)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialData)
	assert.Equal(t, 1, result.Pages)
	c.mockStore.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestPipeline_Run_CancelledBetweenPages(t *testing.T) {
	c := setupPipelineTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Run(func(mock.Arguments) { cancel() }).
		Return(&domain.ContactPage{Contacts: distinctContacts("1", 10), NextPageToken: "p2"}, nil).Once()

	_, err := c.pipeline.Run(ctx, validRequest)
	assert.ErrorIs(t, err, domain.ErrPartialData)
	assert.ErrorIs(t, err, context.Canceled)
	c.mockSource.AssertNumberOfCalls(t, "FetchPage", 1)
	c.mockStore.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestPipeline_Run_RepeatedPageTokenAborts(t *testing.T) {
	c := setupPipelineTest(t)
	ctx := context.Background()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Return(&domain.ContactPage{NextPageToken: "loop"}, nil).Once()
	c.mockSource.On("FetchPage", mock.Anything, "loop", 200).
		Return(&domain.ContactPage{NextPageToken: "loop"}, nil).Once()

	_, err := c.pipeline.Run(ctx, validRequest)
	assert.ErrorIs(t, err, domain.ErrPartialData)
	c.mockStore.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestPipeline_Run_StoreFailure(t *testing.T) {
	c := setupPipelineTest(t)
	ctx := context.Background()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Return(&domain.ContactPage{Contacts: distinctContacts("1", 3)}, nil).Once()
	c.mockStore.On("SaveBatch", mock.Anything, mock.Anything).Return(0, errors.New("tx aborted")).Once()

	_, err := c.pipeline.Run(ctx, validRequest)
	assert.ErrorIs(t, err, domain.ErrStoreFailed)
}

func TestPipeline_Run_EmptyDirectory(t *testing.T) {
	c := setupPipelineTest(t)
	runID := uuid.New()

	c.mockSource.On("FetchPage", mock.Anything, "", 200).
		Return(&domain.ContactPage{}, nil).Once()

	req := validRequest
	req.RunID = runID
	result, err := c.pipeline.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, runID, result.RunID)
	assert.Equal(t, 0, result.Stored)
	c.mockStore.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}

func TestPipeline_Run_InvalidRequest(t *testing.T) {
	c := setupPipelineTest(t)

	_, err := c.pipeline.Run(context.Background(), domain.IngestionRequest{ClientID: "client-1"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	c.mockSource.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_SourceOpenFailure(t *testing.T) {
	c := setupPipelineTest(t)
	c.mockSource.openErr = errors.New("invalid credentials")

	_, err := c.pipeline.Run(context.Background(), validRequest)

	assert.ErrorIs(t, err, domain.ErrPartialData)
	c.mockSource.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything, mock.Anything)
	c.mockStore.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
}
