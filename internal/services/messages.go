package services

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"

	"github.com/aisha-bot/aisha-backend/internal/domain"
)

// Message keys. Each (kind, status) pair that notifies has its own entry.
const (
	msgAvatarCompleted     = "avatar.completed"
	msgAvatarFailed        = "avatar.failed"
	msgEnhanceCompleted    = "enhance.completed"
	msgEnhanceFailed       = "enhance.failed"
	msgTranscriptCompleted = "transcript.completed"
	msgTranscriptFailed    = "transcript.failed"
)

var supportedLocales = []language.Tag{language.Russian, language.English}

var copyTable = map[language.Tag]map[string]string{
	language.Russian: {
		msgAvatarCompleted:     "Ваш аватар «%s» готов! Можно создавать фото.",
		msgAvatarFailed:        "К сожалению, не удалось обучить аватар «%s». Попробуйте загрузить другие фото.",
		msgEnhanceCompleted:    "Фото «%s» улучшено и готово.",
		msgEnhanceFailed:       "Не удалось улучшить фото «%s». Попробуйте ещё раз.",
		msgTranscriptCompleted: "Расшифровка «%s» готова.",
		msgTranscriptFailed:    "Не удалось расшифровать «%s». Попробуйте ещё раз.",
	},
	language.English: {
		msgAvatarCompleted:     "Your avatar “%s” is ready! You can start generating photos.",
		msgAvatarFailed:        "Sorry, training of avatar “%s” failed. Please try again with other photos.",
		msgEnhanceCompleted:    "Your photo “%s” has been enhanced.",
		msgEnhanceFailed:       "Sorry, enhancing “%s” failed. Please try again.",
		msgTranscriptCompleted: "Your transcript “%s” is ready.",
		msgTranscriptFailed:    "Sorry, transcribing “%s” failed. Please try again.",
	},
}

// Messages renders localized notification texts.
type Messages struct {
	cat      *catalog.Builder
	matcher  language.Matcher
	fallback language.Tag
}

// NewMessages builds the catalog. defaultLocale is used when the user's
// language is unknown or unsupported; it falls back to Russian when invalid.
func NewMessages(defaultLocale string) *Messages {
	fallback := language.Russian
	if t, err := language.Parse(defaultLocale); err == nil {
		fallback = matchSupported(language.NewMatcher(supportedLocales), t, language.Russian)
	}
	cat := catalog.NewBuilder(catalog.Fallback(fallback))
	for tag, entries := range copyTable {
		for key, msg := range entries {
			// Keys and tags are static; SetString only fails on malformed input.
			_ = cat.SetString(tag, key, msg)
		}
	}
	return &Messages{
		cat:      cat,
		matcher:  language.NewMatcher(supportedLocales),
		fallback: fallback,
	}
}

func matchSupported(m language.Matcher, t language.Tag, fallback language.Tag) language.Tag {
	_, idx, conf := m.Match(t)
	if conf == language.No {
		return fallback
	}
	return supportedLocales[idx]
}

// Locale resolves a Telegram language code to a supported tag.
func (m *Messages) Locale(code string) language.Tag {
	t, err := language.Parse(code)
	if err != nil || code == "" {
		return m.fallback
	}
	return matchSupported(m.matcher, t, m.fallback)
}

// Render returns the text for a job that reached status. ok is false for
// statuses that do not notify the user.
func (m *Messages) Render(kind domain.JobKind, status domain.JobStatus, langCode, resource string) (string, bool) {
	key, ok := messageKey(kind, status)
	if !ok {
		return "", false
	}
	p := message.NewPrinter(m.Locale(langCode), message.Catalog(m.cat))
	return p.Sprintf(key, resource), true
}

func messageKey(kind domain.JobKind, status domain.JobStatus) (string, bool) {
	if !status.Notifies() {
		return "", false
	}
	completed := status == domain.JobCompleted
	switch kind {
	case domain.KindEnhance:
		if completed {
			return msgEnhanceCompleted, true
		}
		return msgEnhanceFailed, true
	case domain.KindTranscript:
		if completed {
			return msgTranscriptCompleted, true
		}
		return msgTranscriptFailed, true
	default:
		if completed {
			return msgAvatarCompleted, true
		}
		return msgAvatarFailed, true
	}
}
