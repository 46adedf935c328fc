package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/tomfahy/studycache/internal/cache"
	"github.com/tomfahy/studycache/internal/domain"
	"github.com/tomfahy/studycache/internal/remote"
)

// Syncer applies the fetch-then-cache-fallback policy uniformly across the
// cacheable entity types. Reads try the remote first and write the result
// through to the cache; when the remote fails (rejection or transport),
// a non-empty cached result is returned instead, and only when the cache is
// also empty does the remote error reach the caller. Creates always go to
// the remote and propagate failure directly.
type Syncer struct {
	remote *remote.Client
	cache  *cache.Store
	log    *slog.Logger
}

// New creates a Syncer. logger may be nil, in which case slog.Default() is
// used.
func New(remoteClient *remote.Client, store *cache.Store, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{remote: remoteClient, cache: store, log: logger}
}

// origin records which path produced a fetch result. Public methods drop
// it; tests assert on it.
type origin int

const (
	originRemote origin = iota
	originCache
)

// NewSubject is the payload for CreateSubject. The server assigns the id.
type NewSubject struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// NewLesson is the payload for CreateLesson.
type NewLesson struct {
	SubjectID   string `json:"subjectId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// NewTextChapter is the payload for CreateChapterFromText.
type NewTextChapter struct {
	LessonID    string `json:"lessonId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	TextInput   string `json:"textInput"`
}

// NewAudioURLChapter is the payload for CreateChapterFromAudioURL.
type NewAudioURLChapter struct {
	LessonID    string `json:"lessonId"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AudioURL    string `json:"audioUrl"`
}

// FetchSubjects returns every subject for the current user.
func (s *Syncer) FetchSubjects(ctx context.Context) ([]domain.Subject, error) {
	subjects, _, err := fetchList[domain.Subject](ctx, s, domain.CollectionSubjects, "/subjects",
		func(ctx context.Context) ([][]byte, error) {
			return s.cache.GetAll(ctx, domain.CollectionSubjects)
		})
	return subjects, err
}

// FetchSubject returns one subject by id.
func (s *Syncer) FetchSubject(ctx context.Context, id string) (*domain.Subject, error) {
	subject, _, err := fetchOne[domain.Subject](ctx, s, domain.CollectionSubjects, "/subjects/"+id, id)
	return subject, err
}

// CreateSubject creates a subject on the remote and writes it through to
// the cache.
func (s *Syncer) CreateSubject(ctx context.Context, req NewSubject) (*domain.Subject, error) {
	return create[domain.Subject](ctx, s, domain.CollectionSubjects, "/subjects", req)
}

// FetchLessons returns the lessons of one subject.
func (s *Syncer) FetchLessons(ctx context.Context, subjectID string) ([]domain.Lesson, error) {
	lessons, _, err := fetchList[domain.Lesson](ctx, s, domain.CollectionLessons, "/lessons/by-subject/"+subjectID,
		func(ctx context.Context) ([][]byte, error) {
			return s.cache.GetByParent(ctx, domain.CollectionLessons, subjectID)
		})
	return lessons, err
}

// FetchLesson returns one lesson by id.
func (s *Syncer) FetchLesson(ctx context.Context, id string) (*domain.Lesson, error) {
	lesson, _, err := fetchOne[domain.Lesson](ctx, s, domain.CollectionLessons, "/lessons/"+id, id)
	return lesson, err
}

// CreateLesson creates a lesson under a subject.
func (s *Syncer) CreateLesson(ctx context.Context, req NewLesson) (*domain.Lesson, error) {
	return create[domain.Lesson](ctx, s, domain.CollectionLessons, "/lessons", req)
}

// FetchChapters returns the chapters of one lesson.
func (s *Syncer) FetchChapters(ctx context.Context, lessonID string) ([]domain.Chapter, error) {
	chapters, _, err := fetchList[domain.Chapter](ctx, s, domain.CollectionChapters, "/chapters/by-lesson/"+lessonID,
		func(ctx context.Context) ([][]byte, error) {
			return s.cache.GetByParent(ctx, domain.CollectionChapters, lessonID)
		})
	return chapters, err
}

// FetchChapter returns one chapter by id.
func (s *Syncer) FetchChapter(ctx context.Context, id string) (*domain.Chapter, error) {
	chapter, _, err := fetchOne[domain.Chapter](ctx, s, domain.CollectionChapters, "/chapters/"+id, id)
	return chapter, err
}

// CreateChapterFromText creates a chapter from raw text input.
func (s *Syncer) CreateChapterFromText(ctx context.Context, req NewTextChapter) (*domain.Chapter, error) {
	return create[domain.Chapter](ctx, s, domain.CollectionChapters, "/chapters/from-text", req)
}

// CreateChapterFromAudioURL creates a chapter from audio reachable by URL.
func (s *Syncer) CreateChapterFromAudioURL(ctx context.Context, req NewAudioURLChapter) (*domain.Chapter, error) {
	return create[domain.Chapter](ctx, s, domain.CollectionChapters, "/chapters/from-audio-url", req)
}

// CreateChapterFromAudio uploads an audio file and creates a chapter from
// it. The description field is omitted from the form when empty.
func (s *Syncer) CreateChapterFromAudio(ctx context.Context, lessonID, name, description, filename string, audio io.Reader) (*domain.Chapter, error) {
	fields := map[string]string{
		"lessonId": lessonID,
		"name":     name,
	}
	if description != "" {
		fields["description"] = description
	}

	body, err := s.remote.Upload(ctx, "/chapters/from-audio", fields, "audio", filename, audio)
	if err != nil {
		return nil, err
	}

	var chapter domain.Chapter
	if err := json.Unmarshal(body, &chapter); err != nil {
		return nil, fmt.Errorf("failed to decode /chapters/from-audio response: %w", err)
	}
	s.writeThrough(ctx, domain.CollectionChapters, []domain.Entity{chapter})
	return &chapter, nil
}

// fetchList is the shared policy for collection fetches: read the cache via
// load, call the remote, write the fresh result through, and fall back to a
// non-empty cached result when the remote fails.
func fetchList[T domain.Entity](ctx context.Context, s *Syncer, collection, path string, load func(context.Context) ([][]byte, error)) ([]T, origin, error) {
	cached, err := load(ctx)
	if err != nil {
		// Cache reads never fail a fetch; treat as a miss.
		s.log.Warn("cache read failed", "collection", collection, "error", err)
		cached = nil
	}

	body, remoteErr := s.remote.Request(ctx, http.MethodGet, path, nil, nil)
	if remoteErr != nil {
		if len(cached) > 0 {
			fallback, decodeErr := decodeMany[T](cached)
			if decodeErr == nil {
				s.log.Info("remote unavailable, serving cached records",
					"collection", collection, "count", len(fallback), "error", remoteErr)
				return fallback, originCache, nil
			}
			s.log.Warn("cached records unreadable", "collection", collection, "error", decodeErr)
		}
		return nil, originRemote, remoteErr
	}

	var fresh []T
	if err := json.Unmarshal(body, &fresh); err != nil {
		return nil, originRemote, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	s.writeThrough(ctx, collection, asEntities(fresh))
	return fresh, originRemote, nil
}

// fetchOne is the single-entity counterpart of fetchList.
func fetchOne[T domain.Entity](ctx context.Context, s *Syncer, collection, path, id string) (*T, origin, error) {
	cached, err := s.cache.GetOne(ctx, collection, id)
	if err != nil {
		s.log.Warn("cache read failed", "collection", collection, "id", id, "error", err)
		cached = nil
	}

	body, remoteErr := s.remote.Request(ctx, http.MethodGet, path, nil, nil)
	if remoteErr != nil {
		if cached != nil {
			var fallback T
			if decodeErr := json.Unmarshal(cached, &fallback); decodeErr == nil {
				s.log.Info("remote unavailable, serving cached record",
					"collection", collection, "id", id, "error", remoteErr)
				return &fallback, originCache, nil
			}
		}
		return nil, originRemote, remoteErr
	}

	var fresh T
	if err := json.Unmarshal(body, &fresh); err != nil {
		return nil, originRemote, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	s.writeThrough(ctx, collection, []domain.Entity{fresh})
	return &fresh, originRemote, nil
}

// create posts a new entity to the remote and writes the server's copy
// through to the cache. Remote failure always propagates; there is no
// offline-write queueing.
func create[T domain.Entity](ctx context.Context, s *Syncer, collection, path string, payload any) (*T, error) {
	body, err := s.remote.Request(ctx, http.MethodPost, path, payload, nil)
	if err != nil {
		return nil, err
	}

	var created T
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	s.writeThrough(ctx, collection, []domain.Entity{created})
	return &created, nil
}

// writeThrough caches a successful remote result. The remote result is the
// source of truth, so a cache-write failure is logged and never surfaced.
func (s *Syncer) writeThrough(ctx context.Context, collection string, entities []domain.Entity) {
	if err := s.cache.PutMany(ctx, collection, entities); err != nil {
		s.log.Warn("write-through to cache failed", "collection", collection, "error", err)
	}
}

func asEntities[T domain.Entity](values []T) []domain.Entity {
	entities := make([]domain.Entity, len(values))
	for i, v := range values {
		entities[i] = v
	}
	return entities
}

func decodeMany[T domain.Entity](payloads [][]byte) ([]T, error) {
	values := make([]T, 0, len(payloads))
	for _, payload := range payloads {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, fmt.Errorf("failed to decode cached record: %w", err)
		}
		values = append(values, v)
	}
	return values, nil
}
