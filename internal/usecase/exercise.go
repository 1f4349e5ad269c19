package usecase

import (
	"fmt"
	"sort"
	"strings"

	"rehabstage/internal/domain"
)

// Exercise is the per-kind capability record the controller is
// parameterised with.
type Exercise struct {
	Name  string
	Media domain.MediaKind
	// Threshold pins the submitted threshold. Nil sends the session difficulty.
	Threshold    *float64
	PromptText   string
	PassMessage  string
	RetryPrefix  string
	ErrorMessage string
	// EchoInput appends the recognized input to pass and retry texts.
	EchoInput bool
	// AutoAdvance moves to the next stage as soon as a verdict passes.
	AutoAdvance bool
	// SilentRetry returns a failed attempt straight to awaiting input.
	SilentRetry   bool
	RequireChoice bool
	FieldName     string
}

const (
	KindPhonemePractice  = "phoneme_practice"
	KindFunctionalSpeech = "functional_speech"
	KindLanguageTherapy  = "language_therapy"
	KindFacialDetection  = "facial_detection"
)

const (
	defaultErrorMessage = "เกิดข้อผิดพลาดในการประมวลผล กรุณาลองใหม่อีกครั้ง"
	echoPrefix          = "คุณพูดคำว่า "
)

var builtinExercises = map[string]Exercise{
	KindPhonemePractice: {
		Name:         KindPhonemePractice,
		Media:        domain.MediaAudio,
		PromptText:   "กดปุ่มแล้วออกเสียงตามคำที่เห็น",
		PassMessage:  "สุดยอดเลย! ออกเสียงดีมาก",
		RetryPrefix:  "ลองอีกทีนึงนะ: ",
		ErrorMessage: defaultErrorMessage,
		EchoInput:    true,
		FieldName:    "value",
	},
	KindFunctionalSpeech: {
		Name:         KindFunctionalSpeech,
		Media:        domain.MediaAudio,
		PromptText:   "กดปุ่มแล้วพูดประโยคตามภาพ",
		PassMessage:  "เก่งมากกกก! พูดถูกต้องเลย",
		RetryPrefix:  "เอาใหม่นะๆ: ",
		ErrorMessage: defaultErrorMessage,
		EchoInput:    true,
		FieldName:    "value",
	},
	KindLanguageTherapy: {
		Name:          KindLanguageTherapy,
		Media:         domain.MediaAudio,
		PromptText:    "เลือกคำตอบแล้วพูดคำตอบนั้น",
		PassMessage:   "ยอดเยี่ยม! คุณตอบและพูดได้ถูกต้อง",
		RetryPrefix:   "ลองใหม่อีกครั้ง: ",
		ErrorMessage:  defaultErrorMessage,
		EchoInput:     true,
		RequireChoice: true,
		FieldName:     "value",
	},
	KindFacialDetection: {
		Name:         KindFacialDetection,
		Media:        domain.MediaFrame,
		PromptText:   "ทำสีหน้าตามภาพตัวอย่าง",
		PassMessage:  "ถูกต้อง! คุณทำใบหน้าได้ดีมาก",
		ErrorMessage: defaultErrorMessage,
		SilentRetry:  true,
		FieldName:    "value",
	},
}

// LookupExercise returns the built-in exercise for a game type.
func LookupExercise(kind string) (Exercise, error) {
	exercise, ok := builtinExercises[strings.TrimSpace(kind)]
	if !ok {
		return Exercise{}, fmt.Errorf("unknown game type %q", kind)
	}
	return exercise, nil
}

// ExerciseKinds lists the built-in game types in lexical order.
func ExerciseKinds() []string {
	kinds := make([]string, 0, len(builtinExercises))
	for kind := range builtinExercises {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// threshold resolves the value sent with every submission of a session.
func (e Exercise) threshold(progress domain.SessionProgress) float64 {
	if e.Threshold != nil {
		return *e.Threshold
	}
	return progress.Difficulty
}

func (e Exercise) normalized() Exercise {
	if e.Media == "" {
		e.Media = domain.MediaAudio
	}
	if e.ErrorMessage == "" {
		e.ErrorMessage = defaultErrorMessage
	}
	if e.FieldName == "" {
		e.FieldName = "value"
	}
	return e
}
