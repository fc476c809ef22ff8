// Package terminal implements the interactive command-line coordinator client.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/wolfman30/care-coordinator-ai/internal/conversation"
	"github.com/wolfman30/care-coordinator-ai/internal/patient"
)

const rule = "----------------------------------------"

type turnHandler interface {
	Handle(ctx context.Context, req conversation.TurnRequest) (*conversation.TurnResult, error)
}

type recordResolver interface {
	Resolve(ctx context.Context, id string) (*patient.Record, error)
}

// Config wires a Session.
type Config struct {
	In            io.Reader
	Out           io.Writer
	Coordinator   turnHandler
	Resolver      recordResolver
	Reference     conversation.ReferenceSource
	ProviderReady bool
	ProviderName  string
}

// Session is one interactive terminal conversation. It is strictly
// sequential: each question blocks the loop until the turn completes.
type Session struct {
	in            *bufio.Scanner
	out           io.Writer
	coordinator   turnHandler
	resolver      recordResolver
	reference     conversation.ReferenceSource
	providerReady bool
	providerName  string

	patientID string
	record    *patient.Record
	history   []conversation.ChatMessage
}

func NewSession(cfg Config) *Session {
	if cfg.Coordinator == nil || cfg.Resolver == nil {
		panic("terminal: coordinator and resolver are required")
	}
	return &Session{
		in:            bufio.NewScanner(cfg.In),
		out:           cfg.Out,
		coordinator:   cfg.Coordinator,
		resolver:      cfg.Resolver,
		reference:     cfg.Reference,
		providerReady: cfg.ProviderReady,
		providerName:  cfg.ProviderName,
	}
}

// History returns a copy of the session transcript.
func (s *Session) History() []conversation.ChatMessage {
	return append([]conversation.ChatMessage(nil), s.history...)
}

// Run reads commands until quit, end of input or context cancellation.
func (s *Session) Run(ctx context.Context) error {
	s.banner()
	for {
		if err := ctx.Err(); err != nil {
			s.println("\nGoodbye!")
			return nil
		}
		fmt.Fprint(s.out, ">> ")
		if !s.in.Scan() {
			s.println("\n\nGoodbye!")
			return s.in.Err()
		}
		if s.Execute(ctx, s.in.Text()) {
			s.println("Goodbye!")
			return nil
		}
	}
}

// Execute runs one input line. It reports true when the line asks to quit.
func (s *Session) Execute(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	lower := strings.ToLower(input)
	switch {
	case lower == "quit" || lower == "exit" || lower == "q":
		return true
	case lower == "help":
		s.help()
	case strings.HasPrefix(lower, "load "):
		s.Load(ctx, strings.TrimSpace(input[len("load "):]))
	case lower == "patient":
		s.showPatient()
	case lower == "clear":
		s.history = nil
		s.println("✓ Conversation history cleared.")
	case lower == "history":
		s.showHistory()
	case lower == "data":
		s.showReference(ctx)
	default:
		s.Ask(ctx, input)
	}
	return false
}

// Load resolves a patient and resets the transcript.
func (s *Session) Load(ctx context.Context, id string) {
	rec, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		if errors.Is(err, patient.ErrUnavailable) {
			s.printf("✗ Patient service unavailable while loading '%s': %v\n", id, err)
			return
		}
		s.printf("✗ Patient ID '%s' not found.\n", id)
		return
	}
	s.patientID = id
	s.record = rec
	s.history = nil
	s.printf("✓ Loaded patient: %s\n", rec.DisplayName("Unknown"))
	s.printf("  DOB: %s\n", orUnknown(rec.DOB))
	s.printf("  PCP: %s\n", orUnknown(rec.PCP))
}

// Ask sends a question for the loaded patient with the session history.
func (s *Session) Ask(ctx context.Context, question string) {
	if s.record == nil {
		s.println("✗ No patient loaded. Use 'load 1' to load a patient first.")
		return
	}

	s.printf("\nYou: %s\n", question)
	fmt.Fprint(s.out, "Assistant: ")

	result, err := s.coordinator.Handle(ctx, conversation.TurnRequest{
		PatientID: s.patientID,
		Message:   question,
		History:   s.History(),
	})
	if err != nil {
		s.printf("✗ Error: %v\n", err)
		return
	}
	if result.Failed() {
		s.printf("✗ Error: %s\n", result.Error)
		return
	}

	s.println(result.Response)
	s.history = append(s.history,
		conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: question},
		conversation.ChatMessage{Role: conversation.ChatRoleAssistant, Content: result.Response},
	)

	if len(result.FormUpdates) > 0 {
		s.println("\nForm updates:")
		keys := make([]string, 0, len(result.FormUpdates))
		for k := range result.FormUpdates {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s.printf("  %s: %v\n", k, result.FormUpdates[k])
		}
	}
	if result.TokensUsed != nil && *result.TokensUsed > 0 {
		s.printf("\n(Tokens used: %d)\n", *result.TokensUsed)
	}
	s.println("")
}

func (s *Session) banner() {
	s.println(strings.Repeat("=", 60))
	s.println("   CARE COORDINATOR AI - TERMINAL CHAT")
	s.println(strings.Repeat("=", 60))
	s.println("Type 'help' for commands, 'quit' to exit")
	s.println("")
	if !s.providerReady {
		name := s.providerName
		if name == "" {
			name = "completion provider"
		}
		s.printf("⚠️  Warning: no credential configured for the %s.\n", name)
		s.println("   You can still test commands, but AI responses won't work.")
		s.println("")
	}
}

func (s *Session) help() {
	s.println("\nAvailable Commands:")
	s.println("  load <patient_id>  - Load patient (1 for John Doe)")
	s.println("  patient           - Show current patient info")
	s.println("  clear             - Clear conversation history")
	s.println("  history           - Show conversation history")
	s.println("  data              - Show hospital data sheet")
	s.println("  help              - Show this help")
	s.println("  quit              - Exit the application")
	s.println("\nOr just type your question about care coordination!")
	s.println("")
}

func (s *Session) showPatient() {
	if s.record == nil {
		s.println("No patient loaded. Use 'load 1' to load John Doe.")
		return
	}
	rec := s.record
	s.printf("\nCurrent Patient: %s\n", orUnknown(rec.Name))
	s.printf("DOB: %s\n", orUnknown(rec.DOB))
	s.printf("PCP: %s\n", orUnknown(rec.PCP))
	s.printf("EHR ID: %s\n", orUnknown(rec.EHRID))

	s.println("\nReferred Providers:")
	for _, p := range rec.ReferredProviders {
		s.printf("  - %s (%s)\n", p.ProviderLabel("Unknown"), p.SpecialtyLabel("Unknown"))
	}
	s.println("\nAppointment History:")
	for _, apt := range rec.Appointments {
		s.printf("  - %s at %s with %s - %s\n", orUnknown(apt.Date), orUnknown(apt.Time), orUnknown(apt.Provider), orUnknown(apt.Status))
	}
	s.println("")
}

func (s *Session) showHistory() {
	if len(s.history) == 0 {
		s.println("No conversation history.")
		return
	}
	s.println("\nConversation History:")
	s.println(rule)
	for i, msg := range s.history {
		role := "Assistant"
		if msg.Role == conversation.ChatRoleUser {
			role = "You"
		}
		s.printf("%d. %s: %s\n", i+1, role, msg.Content)
	}
	s.println(rule)
	s.println("")
}

func (s *Session) showReference(ctx context.Context) {
	if s.reference == nil {
		s.println("✗ No hospital data sheet configured.")
		return
	}
	text, err := s.reference.LoadReference(ctx)
	if err != nil {
		s.printf("✗ Error reading data sheet: %v\n", err)
		return
	}
	s.println("\nHospital Data Sheet:")
	s.println(rule)
	s.println(text)
	s.println(rule)
	s.println("")
}

func (s *Session) println(line string) {
	fmt.Fprintln(s.out, line)
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "Unknown"
	}
	return v
}
