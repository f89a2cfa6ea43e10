package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meetingScribe/worker/intelligence"
	"meetingScribe/worker/kafka"
	"meetingScribe/worker/repository"
	"meetingScribe/worker/retry"
)

type progressUpdate struct {
	progress     int
	retryAttempt int
}

type fakeRepo struct {
	progress  []progressUpdate
	completed map[string]string
	failed    map[string]string
	meetings  []*repository.Meeting

	createMeetingErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		completed: make(map[string]string),
		failed:    make(map[string]string),
	}
}

func (r *fakeRepo) UpdateJobProgress(ctx context.Context, jobID string, progress, retryAttempt int) error {
	r.progress = append(r.progress, progressUpdate{progress, retryAttempt})
	return nil
}

func (r *fakeRepo) CompleteJob(ctx context.Context, jobID, meetingID string) error {
	r.completed[jobID] = meetingID
	return nil
}

func (r *fakeRepo) FailJob(ctx context.Context, jobID, errMsg string) error {
	r.failed[jobID] = errMsg
	return nil
}

func (r *fakeRepo) CreateMeeting(ctx context.Context, meeting *repository.Meeting) error {
	if r.createMeetingErr != nil {
		return r.createMeetingErr
	}
	r.meetings = append(r.meetings, meeting)
	return nil
}

type cacheEntry struct {
	status   string
	progress int
}

type fakeCache struct {
	entries []cacheEntry
}

func (c *fakeCache) Set(ctx context.Context, jobID, userID, status string, progress int) error {
	c.entries = append(c.entries, cacheEntry{status, progress})
	return nil
}

type fakeStore struct {
	objects map[string][]byte
	deleted []string
	moved   []string

	moveErr error
}

func newFakeStore(location string, data []byte) *fakeStore {
	return &fakeStore{objects: map[string][]byte{location: data}}
}

func (s *fakeStore) Download(ctx context.Context, location string) (io.ReadCloser, error) {
	data, ok := s.objects[location]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeStore) Delete(ctx context.Context, location string) error {
	s.deleted = append(s.deleted, location)
	delete(s.objects, location)
	return nil
}

func (s *fakeStore) MoveToProcessed(ctx context.Context, location, meetingID string) (string, error) {
	if s.moveErr != nil {
		return "", s.moveErr
	}
	s.moved = append(s.moved, location)
	return "users/u1/processed/" + meetingID + ".mp3", nil
}

type fakeIntel struct {
	failuresLeft int
	failAlways   bool
	calls        int
}

func (f *fakeIntel) Transcribe(ctx context.Context, audio io.Reader, filename string) (*intelligence.Transcript, error) {
	f.calls++
	if f.failAlways || f.failuresLeft > 0 {
		f.failuresLeft--
		return nil, errors.New("collaborator unavailable")
	}
	return &intelligence.Transcript{Text: "we discussed the roadmap", Language: "en", DurationSeconds: 120}, nil
}

func (f *fakeIntel) ExtractMetadata(ctx context.Context, transcript string) (*intelligence.Metadata, error) {
	return &intelligence.Metadata{Title: "Roadmap Sync", Attendees: []string{"alice", "bob"}}, nil
}

func (f *fakeIntel) Summarize(ctx context.Context, transcript string) (string, error) {
	return "Discussed the roadmap; two action items.", nil
}

func testMessage() *kafka.IngestMessage {
	return &kafka.IngestMessage{
		JobID:         "job-1",
		TraceID:       "trace-1",
		UserID:        "u1",
		Location:      "users/u1/temp/1-abcd1234.mp3",
		ContentDigest: "digest-1",
		Filename:      "standup.mp3",
		SizeBytes:     1024,
	}
}

func newTestProcessor(t *testing.T, repo *fakeRepo, store *fakeStore, intel *fakeIntel) (*Processor, *fakeCache) {
	t.Helper()

	statusCache := &fakeCache{}
	retrier := retry.NewWithSleep(3, func(time.Duration) {})
	p := NewProcessor(repo, statusCache, store, intel, retrier, zaptest.NewLogger(t))
	return p, statusCache
}

func TestProcess_Success(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	p, statusCache := newTestProcessor(t, repo, store, &fakeIntel{})

	err := p.Process(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, repo.meetings, 1)
	meeting := repo.meetings[0]
	assert.Equal(t, "u1", meeting.UserID)
	assert.Equal(t, "Roadmap Sync", meeting.Title)
	assert.Equal(t, "we discussed the roadmap", meeting.Transcript)
	assert.Equal(t, "digest-1", meeting.ContentDigest)
	assert.Equal(t, []string{"alice", "bob"}, meeting.Attendees)
	assert.Equal(t, 120, meeting.DurationSeconds)

	assert.Equal(t, meeting.ID, repo.completed["job-1"])
	assert.Empty(t, repo.failed)
	assert.Equal(t, []string{msg.Location}, store.moved)

	require.NotEmpty(t, repo.progress)
	assert.Equal(t, progressUpdate{10, 0}, repo.progress[0])

	final := statusCache.entries[len(statusCache.entries)-1]
	assert.Equal(t, cacheEntry{"completed", 100}, final)
}

func TestProcess_AllAttemptsFail(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	intel := &fakeIntel{failAlways: true}
	p, statusCache := newTestProcessor(t, repo, store, intel)

	err := p.Process(context.Background(), msg)
	require.Error(t, err)

	assert.Equal(t, 3, intel.calls, "must attempt exactly MaxAttempts times")
	assert.Contains(t, repo.failed["job-1"], "collaborator unavailable")
	assert.Empty(t, repo.completed)

	// Progress advances on each retry: 10, then 30, then 50.
	var observed []int
	for _, u := range repo.progress {
		observed = append(observed, u.progress)
	}
	assert.Equal(t, []int{10, 30, 50, 50}, observed)

	// The final update records the full attempt count.
	assert.Equal(t, 3, repo.progress[len(repo.progress)-1].retryAttempt)

	// The staged object stays put so a manual retry can reuse it.
	assert.Empty(t, store.deleted)
	assert.Empty(t, store.moved)

	final := statusCache.entries[len(statusCache.entries)-1]
	assert.Equal(t, "failed", final.status)
}

func TestProcess_RecoversAfterTransientFailure(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	intel := &fakeIntel{failuresLeft: 2}
	p, _ := newTestProcessor(t, repo, store, intel)

	err := p.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, 3, intel.calls)
	assert.Len(t, repo.meetings, 1)
	assert.NotEmpty(t, repo.completed["job-1"])
	assert.Empty(t, repo.failed)
}

func TestProcess_MonotonicProgress(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	p, _ := newTestProcessor(t, repo, store, &fakeIntel{failuresLeft: 2})

	require.NoError(t, p.Process(context.Background(), msg))

	last := -1
	for _, u := range repo.progress {
		assert.GreaterOrEqual(t, u.progress, last)
		last = u.progress
	}
}

func TestProcess_DuplicateAtWriteTime(t *testing.T) {
	repo := newFakeRepo()
	repo.createMeetingErr = &repository.DuplicateMeetingError{ExistingID: "m-existing"}
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	p, _ := newTestProcessor(t, repo, store, &fakeIntel{})

	err := p.Process(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "m-existing", repo.completed["job-1"])
	assert.Empty(t, repo.failed)
	assert.Equal(t, []string{msg.Location}, store.deleted, "redundant staged copy should be discarded")
}

func TestProcess_MoveFailureKeepsJobCompleted(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := newFakeStore(msg.Location, []byte("audio-bytes"))
	store.moveErr = errors.New("storage flake")
	p, _ := newTestProcessor(t, repo, store, &fakeIntel{})

	err := p.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.NotEmpty(t, repo.completed["job-1"])
	assert.Empty(t, repo.failed)
}

func TestProcess_ComputesDigestWhenMissing(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	msg.ContentDigest = ""
	data := []byte("audio-bytes")
	store := newFakeStore(msg.Location, data)
	p, _ := newTestProcessor(t, repo, store, &fakeIntel{})

	require.NoError(t, p.Process(context.Background(), msg))

	sum := sha256.Sum256(data)
	require.Len(t, repo.meetings, 1)
	assert.Equal(t, hex.EncodeToString(sum[:]), repo.meetings[0].ContentDigest)
}

func TestProcess_DownloadFailureFailsJob(t *testing.T) {
	repo := newFakeRepo()
	msg := testMessage()
	store := &fakeStore{objects: map[string][]byte{}}
	intel := &fakeIntel{}
	p, _ := newTestProcessor(t, repo, store, intel)

	err := p.Process(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, repo.failed["job-1"], "download staged object")
	assert.Zero(t, intel.calls)
}
