package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/whatsapplogin/wal/internal/cli/ui"
)

const (
	groupVerify = "verify"
	groupConfig = "config"
)

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: groupVerify, Title: "VERIFY"},
		&cobra.Group{ID: groupConfig, Title: "CONFIGURATION"},
	)
	loginCmd.GroupID = groupVerify
	gatewayCmd.GroupID = groupVerify
	configCmd.GroupID = groupConfig
	versionCmd.GroupID = groupConfig

	rootCmd.SetHelpFunc(styledHelp)
	rootCmd.SetUsageFunc(func(cmd *cobra.Command) error {
		styledHelp(cmd, nil)
		return nil
	})
}

// palette renders help text, falling back to plain strings without color.
type palette struct{ color bool }

func (p palette) render(s string, style lipgloss.Style) string {
	if !p.color {
		return s
	}
	return ui.ForcedRenderer().NewStyle().Inherit(style).Render(s)
}

func (p palette) heading(s string) string { return p.render(s, ui.StyleBoldCyan) }
func (p palette) code(s string) string    { return p.render(s, ui.StyleCode) }
func (p palette) dim(s string) string     { return p.render(s, ui.StyleHint) }
func (p palette) bold(s string) string    { return p.render(s, ui.StyleBold) }

func styledHelp(cmd *cobra.Command, _ []string) {
	writeHelp(cmd.ErrOrStderr(), cmd, palette{color: ui.ColorEnabled()})
}

func writeHelp(w io.Writer, cmd *cobra.Command, p palette) {
	fmt.Fprintln(w)
	if cmd == rootCmd {
		fmt.Fprintf(w, "  %s %s\n\n", ui.BrandEmoji, p.heading("wal"))
	}
	desc := cmd.Long
	if desc == "" {
		desc = cmd.Short
	}
	for _, line := range strings.Split(desc, "\n") {
		switch {
		case strings.TrimSpace(line) == "":
			fmt.Fprintln(w)
		case strings.HasPrefix(line, "  "):
			fmt.Fprintf(w, "    %s\n", p.code(strings.TrimSpace(line)))
		default:
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, p.heading("USAGE"))
	useLine := cmd.UseLine()
	if cmd.HasAvailableSubCommands() {
		useLine = cmd.CommandPath() + " [command]"
	}
	fmt.Fprintf(w, "  %s\n\n", useLine)

	if cmd.Example != "" {
		fmt.Fprintln(w, p.heading("EXAMPLES"))
		for _, line := range strings.Split(cmd.Example, "\n") {
			if s := strings.TrimSpace(line); s != "" {
				fmt.Fprintf(w, "  %s\n", p.code(s))
			}
		}
		fmt.Fprintln(w)
	}

	writeCommands(w, cmd, p)

	if cmd == rootCmd {
		writeFlags(w, "FLAGS", cmd.Flags(), p)
	} else {
		writeFlags(w, "FLAGS", cmd.LocalNonPersistentFlags(), p)
		writeFlags(w, "GLOBAL FLAGS", cmd.InheritedFlags(), p)
	}

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintf(w, "%s\n\n", p.dim(fmt.Sprintf("Use \"%s [command] --help\" for more information about a command.", cmd.CommandPath())))
	}
}

func writeCommands(w io.Writer, cmd *cobra.Command, p palette) {
	if !cmd.HasAvailableSubCommands() {
		return
	}
	byGroup := make(map[string][]*cobra.Command)
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() {
			byGroup[sub.GroupID] = append(byGroup[sub.GroupID], sub)
		}
	}

	sections := []*cobra.Group{{ID: "", Title: "COMMANDS"}}
	if len(cmd.Groups()) > 0 {
		sections = append(slices.Clone(cmd.Groups()), &cobra.Group{ID: "", Title: "OTHER"})
	}
	for _, g := range sections {
		cmds := byGroup[g.ID]
		if len(cmds) == 0 {
			continue
		}
		fmt.Fprintln(w, p.heading(g.Title))
		width := 0
		for _, c := range cmds {
			width = max(width, len(c.Name()))
		}
		for _, c := range cmds {
			fmt.Fprintf(w, "  %s%s\n", p.bold(fmt.Sprintf("%-*s", width+4, c.Name())), p.dim(c.Short))
		}
		fmt.Fprintln(w)
	}
}

func writeFlags(w io.Writer, title string, fs *pflag.FlagSet, p palette) {
	if !fs.HasAvailableFlags() {
		return
	}
	fmt.Fprintln(w, p.heading(title))
	for _, line := range strings.Split(strings.TrimRight(fs.FlagUsages(), "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintln(w)
}
