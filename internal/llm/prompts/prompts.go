package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/scangrader/internal/model"
)

// Transcription markers the OCR model is asked to emit.
const (
	MarkStruck    = "[overstrøket: ...]"
	MarkIllegible = "[uleselig]"
)

const maxAnswerRunes = 10000

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	studentAnswerRegex      = regexp.MustCompile(`(?i)</?\s*student-answer\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// Language selects the prompt wording.
type Language string

const (
	// LangNorwegian is the default prompt language.
	LangNorwegian Language = "nb"
	// LangEnglish is the English prompt variant.
	LangEnglish Language = "en"
)

var unansweredMarker = map[Language]string{
	LangNorwegian: "[Tomt / ikke besvart]",
	LangEnglish:   "[Empty / not answered]",
}

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[string]*template.Template
)

// IsValidLanguage checks if a prompt language is supported.
func IsValidLanguage(l string) bool {
	_, ok := unansweredMarker[Language(l)]
	return ok
}

// ScoringData holds template data for the scoring user prompt.
type ScoringData struct {
	Number    int
	Part      int
	MaxPoints string
	Content   string
	Solution  string
	Criteria  string
	Answer    string
}

type ocrData struct {
	Struck    string
	Illegible string
}

func load() error {
	loadOnce.Do(func() {
		templates = make(map[string]*template.Template)
		for lang := range unansweredMarker {
			for _, kind := range []string{"ocr", "score_system", "score_user"} {
				name := kind + "_" + string(lang)
				content, err := templateFS.ReadFile("templates/" + name + ".tmpl")
				if err != nil {
					loadErr = errors.New("failed to read prompt file " + name + ": " + err.Error())
					return
				}
				tmpl, err := template.New(name).Parse(string(content))
				if err != nil {
					loadErr = errors.New("failed to parse prompt template " + name + ": " + err.Error())
					return
				}
				templates[name] = tmpl
			}
		}
	})
	return loadErr
}

func execute(name string, data any) (string, error) {
	if err := load(); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[name]
	if !ok {
		return "", errors.New("unknown prompt template: " + name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// BuildOCRPrompt builds the transcription instruction for one page.
func BuildOCRPrompt(lang Language) (string, error) {
	return execute("ocr_"+string(lang), ocrData{Struck: MarkStruck, Illegible: MarkIllegible})
}

// BuildScoringPrompts builds the system and user prompts for scoring one answer.
func BuildScoringPrompts(lang Language, q model.Question, answer string) (system, user string, err error) {
	system, err = execute("score_system_"+string(lang), nil)
	if err != nil {
		return "", "", err
	}
	user, err = execute("score_user_"+string(lang), ScoringData{
		Number:    q.Number,
		Part:      q.Part,
		MaxPoints: strconv.FormatFloat(q.MaxPoints, 'f', -1, 64),
		Content:   q.Content,
		Solution:  q.Solution,
		Criteria:  q.GradingCriteria,
		Answer:    sanitizeAnswer(lang, answer),
	})
	if err != nil {
		return "", "", err
	}
	return system, user, nil
}

func sanitizeAnswer(lang Language, answer string) string {
	answer = studentAnswerRegex.ReplaceAllString(answer, "")
	answer = systemInstructionsRegex.ReplaceAllString(answer, "")
	answer = strings.TrimSpace(answer)

	if answer == "" {
		return unansweredMarker[lang]
	}

	if utf8.RuneCountInString(answer) > maxAnswerRunes {
		runes := []rune(answer)
		answer = string(runes[:maxAnswerRunes]) + "\n\n[...]"
	}

	return answer
}
