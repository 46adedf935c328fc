package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tomfahy/studycache/internal/cache"
	"github.com/tomfahy/studycache/internal/domain"
	"github.com/tomfahy/studycache/internal/remote"
	"github.com/tomfahy/studycache/internal/session"
)

// stubRemote lets a test swap the remote's behavior mid-test, e.g. to take
// the service "offline" after a successful fetch.
type stubRemote struct {
	handler http.HandlerFunc
}

func (s *stubRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler(w, r)
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}
}

func respondStatus(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}

func newTestSyncer(t *testing.T) (*Syncer, *stubRemote, *cache.Store, *session.Session) {
	t.Helper()
	stub := &stubRemote{handler: respondStatus(http.StatusNotFound, `{"error":"not found"}`)}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	sess := session.New()
	sess.Set("user-1", "tok-1")

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), sess)
	if err != nil {
		t.Fatalf("Failed to open test cache: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := remote.NewClient(srv.URL, sess, nil, logger)
	return New(client, store, logger), stub, store, sess
}

func TestFetchSubjectsWriteThroughAndFallback(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = respondJSON(`[{"id":"s1","name":"Math","color":"#fff"}]`)

	subjects, err := syncer.FetchSubjects(ctx)
	if err != nil {
		t.Fatalf("FetchSubjects failed: %v", err)
	}
	if len(subjects) != 1 || subjects[0].ID != "s1" || subjects[0].Name != "Math" {
		t.Fatalf("Expected one subject 'Math', got %+v", subjects)
	}

	// Write-through must have completed before the fetch returned
	payload, err := store.GetOne(ctx, domain.CollectionSubjects, "s1")
	if err != nil || payload == nil {
		t.Fatalf("Expected subject s1 in the cache, got payload=%v err=%v", payload, err)
	}

	// Take the remote offline: the cached copy is served instead
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	subjects, src, err := fetchList[domain.Subject](ctx, syncer, domain.CollectionSubjects, "/subjects",
		func(ctx context.Context) ([][]byte, error) {
			return store.GetAll(ctx, domain.CollectionSubjects)
		})
	if err != nil {
		t.Fatalf("Expected cache fallback, got error: %v", err)
	}
	if src != originCache {
		t.Error("Expected the result to come from the cache")
	}
	if len(subjects) != 1 || subjects[0].Color != "#fff" {
		t.Errorf("Expected the cached subject unchanged, got %+v", subjects)
	}
}

func TestFetchSubjectsNoCachePropagatesError(t *testing.T) {
	syncer, stub, _, _ := newTestSyncer(t)
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	_, err := syncer.FetchSubjects(context.Background())
	if err == nil {
		t.Fatal("Expected the remote error with an empty cache")
	}

	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected the remote *StatusError unchanged, got %T: %v", err, err)
	}
	if statusErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 preserved, got %d", statusErr.Status)
	}
	if statusErr.Message() != "down" {
		t.Errorf("Expected body preserved, got '%s'", statusErr.Message())
	}
}

func TestFetchLessonFallback(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	lesson := domain.Lesson{ID: "l1", SubjectID: "s1", Name: "Algebra"}
	if err := store.PutOne(ctx, domain.CollectionLessons, lesson); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	got, src, err := fetchOne[domain.Lesson](ctx, syncer, domain.CollectionLessons, "/lessons/l1", "l1")
	if err != nil {
		t.Fatalf("Expected cache fallback, got error: %v", err)
	}
	if src != originCache {
		t.Error("Expected the result to come from the cache")
	}
	if *got != lesson {
		t.Errorf("Expected cached lesson %+v, got %+v", lesson, *got)
	}
}

func TestFetchLessonNoCachePropagatesError(t *testing.T) {
	syncer, stub, _, _ := newTestSyncer(t)
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	_, err := syncer.FetchLesson(context.Background(), "l1")
	var statusErr *remote.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected a *StatusError, got %T: %v", err, err)
	}
	if statusErr.Status != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", statusErr.Status)
	}
}

func TestFetchLessonsFallsBackToParentScope(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	lessons := []domain.Entity{
		domain.Lesson{ID: "l1", SubjectID: "s1", Name: "Algebra"},
		domain.Lesson{ID: "l2", SubjectID: "s1", Name: "Geometry"},
		domain.Lesson{ID: "l3", SubjectID: "s2", Name: "Grammar"},
	}
	if err := store.PutMany(ctx, domain.CollectionLessons, lessons); err != nil {
		t.Fatalf("Failed to seed cache: %v", err)
	}
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	got, err := syncer.FetchLessons(ctx, "s1")
	if err != nil {
		t.Fatalf("Expected cache fallback, got error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected the 2 cached lessons of s1, got %d", len(got))
	}
	for _, lesson := range got {
		if lesson.SubjectID != "s1" {
			t.Errorf("Expected only lessons of s1, got %+v", lesson)
		}
	}
}

func TestFetchChapterWriteThrough(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = respondJSON(`{"id":"c1","lessonId":"l1","name":"Intro"}`)

	chapter, err := syncer.FetchChapter(ctx, "c1")
	if err != nil {
		t.Fatalf("FetchChapter failed: %v", err)
	}
	if chapter.LessonID != "l1" {
		t.Errorf("Expected chapter of lesson l1, got %+v", chapter)
	}

	// Retrievable by id and by parent lesson
	payload, err := store.GetOne(ctx, domain.CollectionChapters, "c1")
	if err != nil || payload == nil {
		t.Fatalf("Expected chapter c1 cached by id, got payload=%v err=%v", payload, err)
	}
	payloads, err := store.GetByParent(ctx, domain.CollectionChapters, "l1")
	if err != nil || len(payloads) != 1 {
		t.Fatalf("Expected chapter c1 cached under lesson l1, got %d records err=%v", len(payloads), err)
	}
}

func TestCreateSubject(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	t.Run("writes through on success", func(t *testing.T) {
		stub.handler = func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/subjects" {
				t.Errorf("Expected POST /subjects, got %s %s", r.Method, r.URL.Path)
			}
			var req NewSubject
			json.NewDecoder(r.Body).Decode(&req)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(domain.Subject{ID: "srv-1", Name: req.Name, Color: req.Color})
		}

		subject, err := syncer.CreateSubject(ctx, NewSubject{Name: "Math", Color: "#fff"})
		if err != nil {
			t.Fatalf("CreateSubject failed: %v", err)
		}
		if subject.ID != "srv-1" {
			t.Errorf("Expected the server-assigned id, got '%s'", subject.ID)
		}

		payload, err := store.GetOne(ctx, domain.CollectionSubjects, "srv-1")
		if err != nil || payload == nil {
			t.Errorf("Expected created subject in cache, got payload=%v err=%v", payload, err)
		}
	})

	t.Run("never swallows remote failure", func(t *testing.T) {
		stub.handler = respondStatus(http.StatusBadRequest, `{"error":"name taken"}`)

		_, err := syncer.CreateSubject(ctx, NewSubject{Name: "Math", Color: "#fff"})
		var statusErr *remote.StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("Expected a *StatusError, got %T: %v", err, err)
		}
		if statusErr.Status != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", statusErr.Status)
		}
	})
}

func TestCreateLessonWritesThrough(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = respondJSON(`{"id":"l9","subjectId":"s1","name":"Calculus"}`)

	lesson, err := syncer.CreateLesson(ctx, NewLesson{SubjectID: "s1", Name: "Calculus"})
	if err != nil {
		t.Fatalf("CreateLesson failed: %v", err)
	}
	if lesson.ID != "l9" || lesson.SubjectID != "s1" {
		t.Errorf("Expected the created lesson, got %+v", lesson)
	}

	payloads, err := store.GetByParent(ctx, domain.CollectionLessons, "s1")
	if err != nil || len(payloads) != 1 {
		t.Errorf("Expected lesson cached under subject s1, got %d records err=%v", len(payloads), err)
	}
}

func TestCreateChapterFromText(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	var gotPath string
	var gotBody NewTextChapter
	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		respondJSON(`{"id":"c5","lessonId":"l1","name":"Notes"}`)(w, r)
	}

	chapter, err := syncer.CreateChapterFromText(ctx, NewTextChapter{LessonID: "l1", Name: "Notes", TextInput: "raw text"})
	if err != nil {
		t.Fatalf("CreateChapterFromText failed: %v", err)
	}
	if gotPath != "/chapters/from-text" {
		t.Errorf("Expected POST to /chapters/from-text, got %s", gotPath)
	}
	if gotBody.TextInput != "raw text" {
		t.Errorf("Expected textInput in payload, got %+v", gotBody)
	}
	if chapter.ID != "c5" {
		t.Errorf("Expected created chapter c5, got %+v", chapter)
	}
	if payload, err := store.GetOne(ctx, domain.CollectionChapters, "c5"); err != nil || payload == nil {
		t.Errorf("Expected chapter c5 in cache, got payload=%v err=%v", payload, err)
	}
}

func TestCreateChapterFromAudio(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			t.Errorf("Expected a multipart request, got content type '%s'", r.Header.Get("Content-Type"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("Failed to parse multipart form: %v", err)
		}
		if r.FormValue("lessonId") != "l1" {
			t.Errorf("Expected lessonId field 'l1', got '%s'", r.FormValue("lessonId"))
		}
		file, _, err := r.FormFile("audio")
		if err != nil {
			t.Fatalf("Expected an audio file part: %v", err)
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if string(content) != "audio-bytes" {
			t.Errorf("Expected the audio content, got '%s'", content)
		}
		respondJSON(`{"id":"c7","lessonId":"l1","name":"Lecture"}`)(w, r)
	}

	chapter, err := syncer.CreateChapterFromAudio(ctx, "l1", "Lecture", "", "lecture.mp3", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("CreateChapterFromAudio failed: %v", err)
	}
	if chapter.ID != "c7" {
		t.Errorf("Expected created chapter c7, got %+v", chapter)
	}
	if payload, err := store.GetOne(ctx, domain.CollectionChapters, "c7"); err != nil || payload == nil {
		t.Errorf("Expected chapter c7 in cache, got payload=%v err=%v", payload, err)
	}
}

func TestCreateChapterFromAudioURL(t *testing.T) {
	syncer, stub, _, _ := newTestSyncer(t)

	var gotBody NewAudioURLChapter
	stub.handler = func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		respondJSON(`{"id":"c8","lessonId":"l1","name":"Podcast"}`)(w, r)
	}

	chapter, err := syncer.CreateChapterFromAudioURL(context.Background(), NewAudioURLChapter{
		LessonID: "l1", Name: "Podcast", AudioURL: "https://example.com/ep1.mp3",
	})
	if err != nil {
		t.Fatalf("CreateChapterFromAudioURL failed: %v", err)
	}
	if gotBody.AudioURL != "https://example.com/ep1.mp3" {
		t.Errorf("Expected audioUrl in payload, got %+v", gotBody)
	}
	if chapter.ID != "c8" {
		t.Errorf("Expected created chapter c8, got %+v", chapter)
	}
}

func TestCacheWriteFailureDoesNotMaskRemoteSuccess(t *testing.T) {
	syncer, stub, store, _ := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = respondJSON(`[{"id":"s1","name":"Math","color":"#fff"}]`)

	// Break the store: the write-through will fail, the fetch must not
	store.Close()

	subjects, err := syncer.FetchSubjects(ctx)
	if err != nil {
		t.Fatalf("Expected the remote result despite the cache failure, got: %v", err)
	}
	if len(subjects) != 1 || subjects[0].ID != "s1" {
		t.Errorf("Expected the remote subject unchanged, got %+v", subjects)
	}
}

func TestSignOutHidesCachedContent(t *testing.T) {
	syncer, stub, _, sess := newTestSyncer(t)
	ctx := context.Background()

	stub.handler = respondJSON(`[{"id":"s1","name":"Math","color":"#fff"}]`)
	if _, err := syncer.FetchSubjects(ctx); err != nil {
		t.Fatalf("FetchSubjects failed: %v", err)
	}

	sess.Clear()
	stub.handler = respondStatus(http.StatusServiceUnavailable, `{"error":"down"}`)

	// The previous user's cache must not leak to the anonymous session
	_, err := syncer.FetchSubjects(ctx)
	if err == nil {
		t.Fatal("Expected the remote error after sign-out, got a cached result")
	}
}
