package notify

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys.
const (
	keyAssignedTitle     = "task_assigned.title"
	keyAssignedMessage   = "task_assigned.message"
	keyCompletedTitle    = "task_completed.title"
	keyCompletedMessage  = "task_completed.message"
	keyStatusTitle       = "task_status_changed.title"
	keyStatusMessage     = "task_status_changed.message"
	keyDeadlineTitle     = "task_deadline_near.title"
	keyDeadlineMessage   = "task_deadline_near.message"
	keyInvitationTitle   = "team_invitation.title"
	keyInvitationMessage = "team_invitation.message"
	keyStatusLabelPrefix = "status."
)

const defaultLocale = "en"

var supportedLocales = []language.Tag{language.English, language.Korean}

var translations = map[language.Tag]map[string]string{
	language.English: {
		keyAssignedTitle:     "New task assigned",
		keyAssignedMessage:   "%s assigned you a new task: %s",
		keyCompletedTitle:    "Task completed",
		keyCompletedMessage:  "%s completed a task: %s",
		keyStatusTitle:       "Task status changed",
		keyStatusMessage:     "%s changed the task status from %s to %s: %s",
		keyDeadlineTitle:     "Deadline approaching",
		keyDeadlineMessage:   "Task is due %s: %s",
		keyInvitationTitle:   "Team invitation",
		keyInvitationMessage: "%s invited you to team %s",

		keyStatusLabelPrefix + string(StatusPending):    "Pending",
		keyStatusLabelPrefix + string(StatusInProgress): "In progress",
		keyStatusLabelPrefix + string(StatusCompleted):  "Completed",
		keyStatusLabelPrefix + string(StatusCancelled):  "Cancelled",
	},
	language.Korean: {
		keyAssignedTitle:     "새 태스크 할당",
		keyAssignedMessage:   "%s님이 새 태스크를 할당했습니다: %s",
		keyCompletedTitle:    "태스크 완료됨",
		keyCompletedMessage:  "%s님이 태스크를 완료했습니다: %s",
		keyStatusTitle:       "태스크 상태 변경",
		keyStatusMessage:     "%s님이 태스크 상태를 %s에서 %s로 변경했습니다: %s",
		keyDeadlineTitle:     "마감일 임박",
		keyDeadlineMessage:   "태스크 마감일이 다가옵니다 (%s): %s",
		keyInvitationTitle:   "팀 초대",
		keyInvitationMessage: "%s님이 %s 팀에 초대했습니다",

		keyStatusLabelPrefix + string(StatusPending):    "대기중",
		keyStatusLabelPrefix + string(StatusInProgress): "진행중",
		keyStatusLabelPrefix + string(StatusCompleted):  "완료",
		keyStatusLabelPrefix + string(StatusCancelled):  "취소",
	},
}

var (
	localeMatcher = language.NewMatcher(supportedLocales)
	messages      = buildCatalog()
)

func buildCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range translations {
		for key, msg := range entries {
			if err := b.SetString(tag, key, msg); err != nil {
				panic("notify: bad catalog entry " + key + ": " + err.Error())
			}
		}
	}
	return b
}

// Catalog renders notification titles, messages and status labels in one locale.
// It is safe for concurrent use.
type Catalog struct {
	tag     language.Tag
	printer *message.Printer
}

// NewCatalog returns the catalog best matching locale (a BCP 47 tag such as "ko" or "en-US").
// Unknown or empty locales fall back to English.
func NewCatalog(locale string) *Catalog {
	if locale == "" {
		locale = defaultLocale
	}
	_, idx, _ := localeMatcher.Match(language.Make(locale))
	tag := supportedLocales[idx]
	return &Catalog{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(messages)),
	}
}

// Locale returns the resolved locale tag.
func (c *Catalog) Locale() string { return c.tag.String() }

// StatusLabel returns the human readable status name. Unknown statuses render as-is.
func (c *Catalog) StatusLabel(s TaskStatus) string {
	return c.printer.Sprintf(message.Key(keyStatusLabelPrefix+string(s), string(s)))
}

func (c *Catalog) text(key string, args ...any) string {
	return c.printer.Sprintf(key, args...)
}
