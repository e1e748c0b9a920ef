package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/limpopo/pkg/domain"
)

// Messages holds the notice texts sent to respondents.
// "{start_command}" in Foreword is replaced with Settings.StartCommand.
type Messages struct {
	Foreword       string `yaml:"foreword" mapstructure:"foreword" env:"FOREWORD"`
	Cancelled      string `yaml:"cancelled" mapstructure:"cancelled" env:"CANCELLED"`
	WrongAnswer    string `yaml:"wrong_answer" mapstructure:"wrong_answer" env:"WRONG_ANSWER"`
	NoDialog       string `yaml:"no_dialog" mapstructure:"no_dialog" env:"NO_DIALOG"`
	Paused         string `yaml:"paused" mapstructure:"paused" env:"PAUSED"`
	PauseCancelled string `yaml:"pause_cancelled" mapstructure:"pause_cancelled" env:"PAUSE_CANCELLED"`
}

// Settings configures the engine and is embedded by every transport configuration.
type Settings struct {
	// AnswerTimeout bounds a whole Ask call, re-prompts included.
	AnswerTimeout time.Duration `yaml:"answer_timeout" mapstructure:"answer_timeout" env:"ANSWER_TIMEOUT"`
	// ReplyWithoutDialogue sends the foreword to respondents without a dialog.
	ReplyWithoutDialogue bool `yaml:"reply_without_dialogue" mapstructure:"reply_without_dialogue" env:"REPLY_WITHOUT_DIALOGUE"`

	StartCommand  string `yaml:"start_command" mapstructure:"start_command" env:"START_COMMAND"`
	CancelCommand string `yaml:"cancel_command" mapstructure:"cancel_command" env:"CANCEL_COMMAND"`
	PauseCommand  string `yaml:"pause_command" mapstructure:"pause_command" env:"PAUSE_COMMAND"`
	ResumeCommand string `yaml:"resume_command" mapstructure:"resume_command" env:"RESUME_COMMAND"`

	// InboxSize is the capacity of each dialog's inbound queue.
	InboxSize int `yaml:"inbox_size" mapstructure:"inbox_size" env:"INBOX_SIZE"`
	// MaxInputSize is the largest inbound message, in bytes, that Dispatch accepts.
	MaxInputSize int `yaml:"max_input_size" mapstructure:"max_input_size" env:"MAX_INPUT_SIZE"`

	Messages Messages `yaml:"messages" mapstructure:"messages" envPrefix:"MESSAGE_"`
}

// DefaultSettings returns the settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		AnswerTimeout:        5 * time.Minute,
		ReplyWithoutDialogue: true,
		StartCommand:         "/start",
		CancelCommand:        "/cancel",
		PauseCommand:         "/pause",
		ResumeCommand:        "/resume",
		InboxSize:            10,
		MaxInputSize:         4096,
		Messages: Messages{
			Foreword:       "To take the survey, please send {start_command}",
			Cancelled:      "The survey has been cancelled.",
			WrongAnswer:    "Please choose one of the suggested answers.",
			NoDialog:       "There is no survey in progress.",
			Paused:         "The survey is paused.",
			PauseCancelled: "The survey continues.",
		},
	}
}

// Validate checks that the settings can drive a Service.
func (s Settings) Validate() error {
	if s.AnswerTimeout <= 0 {
		return fmt.Errorf("%w: answer timeout must be positive, got %s", domain.ErrInvalidSettings, s.AnswerTimeout)
	}
	if s.InboxSize <= 0 {
		return fmt.Errorf("%w: inbox size must be positive, got %d", domain.ErrInvalidSettings, s.InboxSize)
	}
	if s.MaxInputSize <= 0 {
		return fmt.Errorf("%w: max input size must be positive, got %d", domain.ErrInvalidSettings, s.MaxInputSize)
	}
	if strings.TrimSpace(s.StartCommand) == "" {
		return fmt.Errorf("%w: start command is required", domain.ErrInvalidSettings)
	}
	if s.Messages.WrongAnswer == "" {
		return fmt.Errorf("%w: wrong answer message is required", domain.ErrInvalidSettings)
	}

	seen := make(map[string]string)
	for name, cmd := range map[string]string{
		"start":  s.StartCommand,
		"cancel": s.CancelCommand,
		"pause":  s.PauseCommand,
		"resume": s.ResumeCommand,
	} {
		if cmd == "" {
			continue
		}
		if other, ok := seen[cmd]; ok {
			return fmt.Errorf("%w: %s and %s commands are both %q", domain.ErrInvalidSettings, other, name, cmd)
		}
		seen[cmd] = name
	}
	return nil
}

func (s Settings) foreword() string {
	return strings.ReplaceAll(s.Messages.Foreword, "{start_command}", s.StartCommand)
}
