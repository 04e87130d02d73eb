// Package intent parses dictated billing commands into structured transform
// requests. It checks a transcript against a set of regex patterns and
// extracts the operation, document reference, and client name when one
// matches.
//
// The parser only structures the utterance; it performs no store access. The
// extracted client name still has to go through fuzzy resolution, and the
// document reference through the locator, before a transform can run.
package intent

import (
	"errors"
	"regexp"
	"strings"

	"github.com/voxledger/voxledger/internal/billing"
	"github.com/voxledger/voxledger/internal/resolve"
	"github.com/voxledger/voxledger/internal/transform"
)

// ErrNoIntent is returned when no pattern matches the transcript.
var ErrNoIntent = errors.New("intent: no billing command recognised")

// Intent is the structured form of a dictated billing command.
type Intent struct {
	// Operation is the requested transform.
	Operation transform.Operation `json:"operation"`

	// DocumentType is the dictated source document type.
	DocumentType billing.DocumentType `json:"document_type"`

	// TargetType retypes the derived document ("turn ... into an invoice").
	// Empty when the type is unchanged.
	TargetType billing.DocumentType `json:"target_type,omitempty"`

	// TargetStatus is set for status changes ("mark ... as paid").
	TargetStatus billing.DocumentStatus `json:"target_status,omitempty"`

	// ClientName is the dictated client reference, verbatim. It has not been
	// resolved against the client list.
	ClientName string `json:"client_name"`

	// Selector is the dictated document selector ("last", "latest", ...).
	Selector resolve.Selector `json:"selector,omitempty"`
}

// pattern pairs a compiled regex with the extraction applied on match.
type pattern struct {
	name    string
	regex   *regexp.Regexp
	extract func(matches []string) *Intent
}

// Parser matches transcripts against the built-in command patterns.
// It is stateless and safe for concurrent use.
type Parser struct {
	patterns []pattern
}

// NewParser returns a [Parser] with the built-in pattern set.
func NewParser() *Parser {
	return &Parser{patterns: defaultPatterns()}
}

// Parse extracts a billing command from text. It returns [ErrNoIntent] when
// no pattern matches; the caller decides whether that is worth surfacing to
// the user.
func (p *Parser) Parse(text string) (*Intent, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if trimmed == "" {
		return nil, ErrNoIntent
	}

	for _, pat := range p.patterns {
		matches := pat.regex.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}
		return pat.extract(matches), nil
	}
	return nil, ErrNoIntent
}

// docRef is the shared sub-expression for "the last invoice for NAME" style
// references: optional selector, document type, client name.
const docRef = `(?:the\s+)?(?:(last|latest|most\s+recent|recent)\s+)?(invoice|estimate|contract)\s+for\s+(.+?)`

func defaultPatterns() []pattern {
	return []pattern{
		{
			name:  "status-change",
			regex: regexp.MustCompile(`(?i)^mark\s+` + docRef + `\s+as\s+(draft|sent|pending|paid|overdue|signed|cancelled)$`),
			extract: func(m []string) *Intent {
				return &Intent{
					Operation:    transform.OperationStatusChange,
					Selector:     normalizeSelector(m[1]),
					DocumentType: billing.DocumentType(strings.ToLower(m[2])),
					ClientName:   m[3],
					TargetStatus: billing.DocumentStatus(strings.ToLower(m[4])),
				}
			},
		},
		{
			name:  "convert",
			regex: regexp.MustCompile(`(?i)^(?:convert|turn)\s+` + docRef + `\s+into\s+an?\s+(invoice|estimate|contract)$`),
			extract: func(m []string) *Intent {
				return &Intent{
					Operation:    transform.OperationClone,
					Selector:     normalizeSelector(m[1]),
					DocumentType: billing.DocumentType(strings.ToLower(m[2])),
					ClientName:   m[3],
					TargetType:   billing.DocumentType(strings.ToLower(m[4])),
				}
			},
		},
		{
			name:  "clone",
			regex: regexp.MustCompile(`(?i)^(?:duplicate|copy|clone|redo)\s+` + docRef + `$`),
			extract: func(m []string) *Intent {
				return &Intent{
					Operation:    transform.OperationClone,
					Selector:     normalizeSelector(m[1]),
					DocumentType: billing.DocumentType(strings.ToLower(m[2])),
					ClientName:   m[3],
				}
			},
		},
		{
			name:  "merge",
			regex: regexp.MustCompile(`(?i)^(?:merge|combine)\s+(?:the\s+|all\s+)*(invoice|estimate|contract)s\s+for\s+(.+)$`),
			extract: func(m []string) *Intent {
				return &Intent{
					Operation:    transform.OperationMerge,
					DocumentType: billing.DocumentType(strings.ToLower(m[1])),
					ClientName:   m[2],
				}
			},
		},
	}
}

// normalizeSelector maps the spoken selector phrase onto the locator's
// vocabulary. An absent phrase means "last".
func normalizeSelector(spoken string) resolve.Selector {
	switch strings.ToLower(strings.Join(strings.Fields(spoken), " ")) {
	case "", "last":
		return resolve.SelectorLast
	case "latest":
		return resolve.SelectorLatest
	case "recent", "most recent":
		return resolve.SelectorRecent
	}
	return resolve.SelectorLast
}
