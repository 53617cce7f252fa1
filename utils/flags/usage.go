package flags

import (
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"text/template"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

const (
	// Used when the output is not a terminal and COLUMNS is unset.
	defaultWidth = 100

	// Don't attempt to wrap any more narrow than this.
	minimumWidth = 40

	// Indentation of an option's description and environment variable.
	descIndent = 6
)

// Template describes the help text format. Commands are listed before the
// options, and options are grouped into sections by name.
var Template = `{{.Name}} - {{.Usage}}

USAGE:
   {{.Name}} [options]{{range .VisibleCommands}}{{if ne .Name "help"}}
   {{$.Name}} [options] {{.Name}}{{end}}{{end}}
{{if .VisibleCommands}}
COMMANDS:{{range .VisibleCommands}}
   {{.Name}}{{"\t"}}{{.Usage}}{{end}}
{{end}}{{range sections .VisibleFlags}}
{{.Title}}:{{range .Options}}
   {{option .}}
{{end}}{{end}}`

// Section titles, in the order they are printed.
const (
	generalSection = "OPTIONS"
	tlsSection     = "TLS"
	authSection    = "AUTHENTICATION"
	ldapSection    = "LDAP"
	s3Section      = "S3 BACKEND"
	azBlobSection  = "AZURE BLOB BACKEND"
	loggingSection = "LOGGING AND METRICS"
)

var sectionOrder = []string{
	generalSection,
	tlsSection,
	authSection,
	ldapSection,
	s3Section,
	azBlobSection,
	loggingSection,
}

type section struct {
	Title   string
	Options []cli.Flag
}

// sectionOf returns the help section of the option with the given name.
func sectionOf(name string) string {
	switch {
	case strings.HasPrefix(name, "tls_"):
		return tlsSection
	case strings.HasPrefix(name, "auth."):
		return authSection
	case strings.HasPrefix(name, "ldap."):
		return ldapSection
	case strings.HasPrefix(name, "s3."):
		return s3Section
	case strings.HasPrefix(name, "azblob."):
		return azBlobSection
	case strings.HasPrefix(name, "log_"), name == "access_log_level", name == "enable_endpoint_metrics":
		return loggingSection
	}
	return generalSection
}

// sections groups options by sectionOf, keeping their relative order and
// dropping empty sections.
func sections(options []cli.Flag) []section {
	grouped := make(map[string][]cli.Flag)
	for _, o := range options {
		title := sectionOf(o.Names()[0])
		grouped[title] = append(grouped[title], o)
	}

	var result []section
	for _, title := range sectionOrder {
		if len(grouped[title]) > 0 {
			result = append(result, section{Title: title, Options: grouped[title]})
		}
	}
	return result
}

// option renders one option: its names, then the wrapped description with
// the default value, then the environment variables it is read from.
func option(o cli.Flag, width int) string {
	var sb strings.Builder
	for i, name := range o.Names() {
		if i > 0 {
			sb.WriteString(", ")
		}
		if len(name) == 1 {
			sb.WriteString("-")
		} else {
			sb.WriteString("--")
		}
		sb.WriteString(name)
	}

	doc, ok := o.(cli.DocGenerationFlag)
	if !ok {
		return sb.String()
	}

	desc := doc.GetUsage()
	if doc.TakesValue() {
		sb.WriteString(" value")
		if def := doc.GetDefaultText(); def != "" {
			desc += " (default: " + def + ")"
		}
	}

	padding := strings.Repeat(" ", descIndent)
	if desc != "" {
		sb.WriteString("\n" + padding + wrap(desc, width, padding))
	}
	if envVars := doc.GetEnvVars(); len(envVars) > 0 {
		sb.WriteString("\n" + padding + "$" + strings.Join(envVars, ", $"))
	}
	return sb.String()
}

// HelpPrinter writes our custom-formatted help text to `out`.
func HelpPrinter(out io.Writer, templ string, data interface{}, customFuncs map[string]interface{}) {
	width := getConsoleWidth()

	funcMap := template.FuncMap{
		"sections": sections,
		"option": func(o cli.Flag) string {
			return option(o, width)
		},
	}
	for name, fn := range customFuncs {
		if _, ok := funcMap[name]; !ok {
			funcMap[name] = fn
		}
	}

	w := tabwriter.NewWriter(out, 1, 8, 2, ' ', 0)
	t := template.Must(template.New("help").Funcs(funcMap).Parse(templ))

	err := t.Execute(w, data)
	if err != nil {
		logrus.Fatalf("Failed to apply the help template: %v", err)
	}
	err = w.Flush()
	if err != nil {
		logrus.Fatalf("Failed to flush help text: %v", err)
	}
}

// wrap breaks text at word boundaries so that no line, including the
// `padding` that prefixes every line after the first, is longer than
// width. A word longer than the line is kept whole.
func wrap(text string, width int, padding string) string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}
	limit := width - len(padding)
	if limit <= 0 {
		return strings.Join(words, " ")
	}

	var sb strings.Builder
	sb.WriteString(words[0])
	used := len(words[0])
	for _, word := range words[1:] {
		if used+1+len(word) > limit {
			sb.WriteString("\n" + padding + word)
			used = len(word)
			continue
		}
		sb.WriteString(" " + word)
		used += 1 + len(word)
	}
	return sb.String()
}

func getConsoleWidth() int {
	width := defaultWidth
	if columns, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil {
		width = columns
	} else if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		width = w
	}

	if width < minimumWidth {
		return minimumWidth
	}
	return width
}
