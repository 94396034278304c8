package locales

import (
	"embed"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed *.json
var localeFS embed.FS

// Message ids used by the HTTP surface.
const (
	MsgWorkflowCreated          = "MsgWorkflowCreated"
	MsgWorkflowAdvanced         = "MsgWorkflowAdvanced"
	MsgWorkflowApproved         = "MsgWorkflowApproved"
	MsgWorkflowRejected         = "MsgWorkflowRejected"
	MsgWorkflowChangesRequested = "MsgWorkflowChangesRequested"
	MsgWorkflowCommented        = "MsgWorkflowCommented"
	MsgWorkflowResubmitted      = "MsgWorkflowResubmitted"
	MsgEntryScheduled           = "MsgEntryScheduled"
	MsgEntryRescheduled         = "MsgEntryRescheduled"
	MsgEntryCancelled           = "MsgEntryCancelled"
	MsgPublishStarted           = "MsgPublishStarted"
	MsgPendingApprovals         = "MsgPendingApprovals"
)

var (
	bundle          *i18n.Bundle
	defaultLanguage = language.English
	initOnce        sync.Once
)

// Init loads the embedded message files. Calling it more than once is a no-op.
func Init(defaultLangCode string) {
	initOnce.Do(func() {
		tag, err := language.Parse(defaultLangCode)
		if err != nil {
			log.Printf("WARN: Failed to parse default language code '%s': %v. Falling back to English.", defaultLangCode, err)
			tag = language.English
		}
		defaultLanguage = tag

		bundle = i18n.NewBundle(defaultLanguage)
		bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

		files, err := localeFS.ReadDir(".")
		if err != nil {
			log.Fatalf("Failed to read embedded locales directory: %v", err)
		}

		loaded := 0
		for _, file := range files {
			if file.IsDir() || !strings.HasSuffix(file.Name(), ".json") {
				continue
			}
			if _, err := bundle.LoadMessageFileFS(localeFS, file.Name()); err != nil {
				log.Printf("WARN: Failed to load message file '%s': %v", file.Name(), err)
				continue
			}
			loaded++
		}
		if loaded == 0 {
			log.Fatalf("No message files loaded from locales/")
		}
	})
}

// NewLocalizer creates a localizer for the given language preferences, such
// as an Accept-Language header value.
func NewLocalizer(langPrefs ...string) *i18n.Localizer {
	if bundle == nil {
		Init(defaultLanguage.String())
	}
	return i18n.NewLocalizer(bundle, langPrefs...)
}

// GetMessage renders msgID, falling back to English and finally to the id itself.
func GetMessage(localizer *i18n.Localizer, msgID string, templateData map[string]any) string {
	cfg := &i18n.LocalizeConfig{
		MessageID:    msgID,
		TemplateData: templateData,
	}

	msg, err := localizer.Localize(cfg)
	if err == nil {
		return msg
	}

	log.Printf("ERROR: Failed to localize message ID '%s': %v. Falling back to English.", msgID, err)
	fallback, err := i18n.NewLocalizer(bundle, language.English.String()).Localize(cfg)
	if err == nil {
		return fallback
	}
	return msgID
}

// Translate is shorthand for NewLocalizer followed by GetMessage.
func Translate(acceptLanguage, msgID string, templateData map[string]any) string {
	return GetMessage(NewLocalizer(acceptLanguage), msgID, templateData)
}
