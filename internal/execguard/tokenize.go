package execguard

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Parse-failure and unsupported-construct rule identifiers. These surface in
// CommandAnalysis.Reason so audit logs can say exactly why analysis failed.
const (
	ReasonParseError     = "parse-error"
	ReasonEmptyCommand   = "empty-command"
	ReasonBackground     = "unsupported:background"
	ReasonNegation       = "unsupported:negation"
	ReasonRedirection    = "unsupported:redirection"
	ReasonControlFlow    = "unsupported:control-flow"
	ReasonEnvAssignment  = "unsupported:environment-assignment"
	ReasonExpansion      = "unsupported:expansion"
	ReasonEmptySegment   = "unsupported:empty-segment"
)

// analysisError carries an unsupported-construct rule out of the AST walk.
type analysisError struct{ reason string }

func (e *analysisError) Error() string { return e.reason }

// AnalyzeCommand tokenizes a shell command line into pipeline segments and
// resolves each segment's executable. The grammar accepted here is
// deliberately narrow: plain calls joined by |, |&, &&, || and ;. Anything
// else fails the whole analysis closed: redirections to files, subshells,
// loops, environment assignment prefixes, command or process substitution,
// parameter expansion. An unparsable command is never partially trusted.
func AnalyzeCommand(command string, opts *Options) CommandAnalysis {
	opts = opts.withDefaults()

	command = NormalizeCommand(command)
	if strings.TrimSpace(command) == "" {
		return CommandAnalysis{OK: false, Reason: ReasonEmptyCommand}
	}

	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return CommandAnalysis{OK: false, Reason: ReasonParseError}
	}

	a := &tokenizer{src: command, opts: opts}
	for _, stmt := range file.Stmts {
		if err := a.stmt(stmt); err != nil {
			return CommandAnalysis{OK: false, Reason: err.(*analysisError).reason}
		}
	}
	if len(a.segments) == 0 {
		return CommandAnalysis{OK: false, Reason: ReasonEmptyCommand}
	}

	return CommandAnalysis{OK: true, Segments: a.segments}
}

type tokenizer struct {
	src      string
	opts     *Options
	segments []Segment
}

func (a *tokenizer) stmt(s *syntax.Stmt) error {
	if s.Background || s.Coprocess {
		return &analysisError{ReasonBackground}
	}
	if s.Negated {
		return &analysisError{ReasonNegation}
	}
	for _, r := range s.Redirs {
		// Here-docs and here-strings feed literal bytes to stdin and touch no
		// files; every other redirection reads or writes a path.
		switch r.Op {
		case syntax.Hdoc, syntax.DashHdoc, syntax.WordHdoc:
		default:
			return &analysisError{ReasonRedirection}
		}
	}

	switch c := s.Cmd.(type) {
	case *syntax.CallExpr:
		return a.call(c)
	case *syntax.BinaryCmd:
		switch c.Op {
		case syntax.AndStmt, syntax.OrStmt, syntax.Pipe, syntax.PipeAll:
			if err := a.stmt(c.X); err != nil {
				return err
			}
			return a.stmt(c.Y)
		}
		return &analysisError{ReasonControlFlow}
	default:
		// Subshells, blocks, loops, conditionals, function declarations,
		// arithmetic commands: all opaque to per-segment analysis.
		return &analysisError{ReasonControlFlow}
	}
}

func (a *tokenizer) call(c *syntax.CallExpr) error {
	// VAR=value prefixes rewrite the child environment (LD_PRELOAD, PATH)
	// and so change what actually runs.
	if len(c.Assigns) > 0 {
		return &analysisError{ReasonEnvAssignment}
	}
	if len(c.Args) == 0 {
		return &analysisError{ReasonEmptySegment}
	}

	argv := make([]string, 0, len(c.Args))
	for _, w := range c.Args {
		lit, ok := wordLiteral(w)
		if !ok {
			return &analysisError{ReasonExpansion}
		}
		argv = append(argv, lit)
	}

	raw := a.src
	if start, end := c.Pos().Offset(), c.End().Offset(); int(end) <= len(a.src) && start < end {
		raw = a.src[start:end]
	}

	a.segments = append(a.segments, Segment{
		Raw:        raw,
		Argv:       argv,
		Resolution: resolveExecutable(argv[0], a.opts),
	})
	return nil
}

// wordLiteral extracts the literal string value of a word. Words containing
// any dynamic part ($VAR, $(...), `...`, <(...), arithmetic, extended globs,
// ANSI-C $'...' quoting) report !ok: their runtime value cannot be known
// statically.
func wordLiteral(w *syntax.Word) (string, bool) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			if p.Dollar {
				return "", false
			}
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", false
				}
				sb.WriteString(lit.Value)
			}
		default:
			return "", false
		}
	}
	return sb.String(), true
}
