package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/whatsapplogin/wal/internal/cli/ui"
	"github.com/whatsapplogin/wal/internal/config"
	"github.com/whatsapplogin/wal/internal/expiry"
	"github.com/whatsapplogin/wal/internal/provider"
	"github.com/whatsapplogin/wal/internal/session"
)

// maxCodeAttempts bounds how many wrong codes an interactive login accepts
// before giving up.
const maxCodeAttempts = 3

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify a phone number with a WhatsApp code",
	Long: `Send a one-time code to a phone number over WhatsApp and verify it.

Without --phone or --code the command prompts for them. While waiting for the
code a countdown shows how long it stays valid; press enter on an empty line
to request a new one.`,
	Example: `  wal login --api-url http://localhost:3000 --phone +15551234567
  wal login --provider log --phone +15551234567
  wal login --phone +15551234567 --code 123456 --json`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().String("phone", "", "Phone number to verify (international format)")
	loginCmd.Flags().String("code", "", "Verification code, skips the prompt")
	loginCmd.Flags().String("provider", "", "Provider: webapi, evolution, cloudapi, log")
	loginCmd.Flags().String("api-url", "", "Base URL of the verification API")
	loginCmd.Flags().String("session-id", "", "Session id on the verification API")
}

type loginResult struct {
	Phone     string `json:"phone"`
	Verified  bool   `json:"verified"`
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	errOut := cmd.ErrOrStderr()
	level := "warn"
	if cmd.Flags().Changed("log-level") {
		level = cfg.Logging.Level
	}
	logger, _ := newLogger(errOut, level, "text")
	// The log provider prints the message it would have sent, so it always
	// logs at info.
	channelLogger, _ := newLogger(errOut, "info", "text")

	sess, err := session.New(session.Options{
		Transport:  provider.FromConfig(cfg.Provider, channelLogger),
		CodeLength: cfg.Verification.CodeLength,
		CodeExpiry: config.Seconds(cfg.Verification.CodeExpiry),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer sess.Close()

	interactive := ui.IsTerminal(os.Stdin.Fd()) && ui.IsTerminal(os.Stderr.Fd())
	flow := newLoginFlow(sess, cmd.InOrStdin(), errOut, interactive)

	phone, _ := cmd.Flags().GetString("phone")
	code, _ := cmd.Flags().GetString("code")
	if err := flow.run(cmd.Context(), phone, code); err != nil {
		return err
	}

	res := loginResult{
		Phone:     sess.Phone(),
		Verified:  true,
		SessionID: sess.ID(),
		Provider:  sess.Provider().Name(),
	}
	if jsonOutput(cmd) {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n  %s %s\n\n", ui.StyleBoldGreen.Render(ui.SymbolCheck+" Verified"), ui.StyleBold.Render(res.Phone))
	return nil
}

// loginFlow drives a session through send, prompt and verify on a pair of
// streams.
type loginFlow struct {
	sess        *session.Session
	in          *bufio.Reader
	out         io.Writer
	spin        *ui.StepSpinner
	interactive bool
	now         func() time.Time
}

func newLoginFlow(sess *session.Session, in io.Reader, out io.Writer, interactive bool) *loginFlow {
	return &loginFlow{
		sess:        sess,
		in:          bufio.NewReader(in),
		out:         out,
		spin:        ui.NewStepSpinner(out, !interactive),
		interactive: interactive,
		now:         time.Now,
	}
}

func (l *loginFlow) run(ctx context.Context, phone, code string) error {
	fmt.Fprintf(l.out, "\n  %s %s\n\n", ui.BrandEmoji, ui.StyleBoldCyan.Render("WhatsApp verification"))

	if phone == "" {
		p, err := l.prompt("Phone number: ")
		if err != nil {
			return err
		}
		phone = p
	}
	if err := l.send(ctx, phone); err != nil {
		return err
	}

	attempts := 0
	for {
		if code == "" {
			c, err := l.readCode(ctx)
			if err != nil {
				return err
			}
			if c == "" {
				if err := l.send(ctx, ""); err != nil {
					return err
				}
				continue
			}
			code = c
		}

		l.spin.Start("Checking code")
		l.sess.VerifyCode(ctx, code)
		if l.sess.Status() == session.StatusSuccess {
			l.spin.Done()
			return nil
		}
		info := l.sess.Err()
		l.spin.Fail(info.Message)

		attempts++
		if !l.interactive || info.Kind != session.KindInvalidCode || attempts >= maxCodeAttempts {
			return fmt.Errorf("verification failed: %w", *info)
		}
		code = ""
	}
}

func (l *loginFlow) send(ctx context.Context, phone string) error {
	target := phone
	if target == "" {
		target = l.sess.Phone()
	}
	l.spin.Start("Sending code to " + target)
	l.sess.SendCode(ctx, phone)
	if l.sess.Status() == session.StatusError {
		info := l.sess.Err()
		l.spin.Fail(info.Message)
		return fmt.Errorf("sending code: %w", *info)
	}
	l.spin.Done()
	return nil
}

// readCode prompts for the code. An empty answer in an interactive terminal
// asks for a resend and returns "".
func (l *loginFlow) readCode(ctx context.Context) (string, error) {
	if !l.interactive {
		if exp, ok := l.sess.ExpiresAt(); ok {
			fmt.Fprintf(l.out, "  %s\n", ui.CountdownLine(expiry.Remaining(exp, l.now())))
		}
		code, err := l.prompt("Verification code: ")
		if err != nil {
			return "", err
		}
		if code == "" {
			return "", session.ErrMissingCode
		}
		return code, nil
	}

	// Reserve a line above the prompt for the countdown, then redraw it in
	// place on every tick while the cursor stays on the prompt.
	fmt.Fprintln(l.out)
	l.label("Verification code: ")
	stop := l.sess.Countdown(ctx, func(remaining int) {
		fmt.Fprintf(l.out, "\0337\033[1A\r\033[K  %s\0338", ui.CountdownLine(remaining))
	})
	code, err := l.readLine()
	stop()
	return code, err
}

func (l *loginFlow) prompt(label string) (string, error) {
	l.label(label)
	return l.readLine()
}

func (l *loginFlow) label(label string) {
	fmt.Fprint(l.out, "  "+ui.StyleBold.Render(label))
}

func (l *loginFlow) readLine() (string, error) {
	line, err := l.in.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading input: %w", err)
		}
		if line == "" {
			return "", fmt.Errorf("reading input: %w", io.ErrUnexpectedEOF)
		}
	}
	return strings.TrimSpace(line), nil
}

// Suggestions returns follow-up commands worth showing next to err.
func Suggestions(err error) []string {
	var (
		cfgErr *provider.ConfigurationError
		info   session.ErrorInfo
	)
	switch {
	case errors.Is(err, provider.ErrNoProvider):
		return []string{
			"wal login --api-url http://localhost:3000",
			"wal config set provider.api_url http://localhost:3000",
			"wal login --provider log",
		}
	case errors.As(err, &cfgErr) && cfgErr.Field != "":
		section := "provider"
		if cfgErr.Field == "code_length" || cfgErr.Field == "code_expiry" {
			section = "verification"
		}
		return []string{fmt.Sprintf("wal config set %s.%s <value>", section, cfgErr.Field)}
	case errors.As(err, &info) && info.Kind == session.KindDelivery:
		return []string{"wal config get provider.api_url", "wal login --log-level debug"}
	case errors.As(err, &info) && info.Kind == session.KindInvalidCode:
		return []string{"wal login to request a new code"}
	}
	return nil
}
