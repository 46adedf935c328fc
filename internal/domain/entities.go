package domain

import "time"

// Collection names used for the per-user cache partitions.
const (
	CollectionSubjects = "subjects"
	CollectionLessons  = "lessons"
	CollectionChapters = "chapters"
)

// Entity is implemented by every cacheable domain object. CacheKey is the
// record's own identifier; CacheParent is the owning entity's identifier,
// or "" for top-level entities.
type Entity interface {
	CacheKey() string
	CacheParent() string
}

// Subject is a top-level grouping of study content.
type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Color       string `json:"color,omitempty"`
	Description string `json:"description,omitempty"`
}

func (s Subject) CacheKey() string    { return s.ID }
func (s Subject) CacheParent() string { return "" }

// Lesson belongs to exactly one Subject.
type Lesson struct {
	ID          string `json:"id"`
	SubjectID   string `json:"subjectId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (l Lesson) CacheKey() string    { return l.ID }
func (l Lesson) CacheParent() string { return l.SubjectID }

// Chapter belongs to exactly one Lesson. The source modality (text, audio
// file, audio URL) is a write-time choice; the server returns the same
// Chapter shape regardless of origin.
type Chapter struct {
	ID          string `json:"id"`
	LessonID    string `json:"lessonId"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c Chapter) CacheKey() string    { return c.ID }
func (c Chapter) CacheParent() string { return c.LessonID }

// Flashcard is a read-only artifact derived from a Chapter. Never cached.
type Flashcard struct {
	ID        string `json:"id"`
	ChapterID string `json:"chapterId"`
	Front     string `json:"front"`
	Back      string `json:"back"`
}

// QuizQuestion is a read-only artifact derived from a Chapter. Never cached.
type QuizQuestion struct {
	ID          string   `json:"id"`
	ChapterID   string   `json:"chapterId"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	AnswerIndex int      `json:"answerIndex"`
}

// ChatMessage is one turn in a chapter-scoped conversation.
// Role is "user" or "assistant".
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
