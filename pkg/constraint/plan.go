package constraint

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// Bucket is the position class of a statement in the application plan. Lower buckets are applied first.
type Bucket int

const (
	// BucketLeafTarget holds constraints whose referenced table references no other table
	BucketLeafTarget Bucket = iota
	BucketOther
	BucketSelfReferencing
)

func (b Bucket) String() string {
	switch b {
	case BucketLeafTarget:
		return "leaf-target"
	case BucketOther:
		return "other"
	case BucketSelfReferencing:
		return "self-referencing"
	default:
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
}

type Statement struct {
	DDL        string
	Timeout    time.Duration
	Bucket     Bucket
	Definition ForeignKeyDefinition
}

func (s Statement) ToSQL() string {
	return s.DDL + ";"
}

// Plan is the ordered list of statements that re-adds every deferred foreign key
type Plan struct {
	Statements []Statement
	// Hash identifies the plan's DDL. Two runs over the same sources produce the same hash.
	Hash string
}

func (p Plan) DDL() []string {
	var ddl []string
	for _, stmt := range p.Statements {
		ddl = append(ddl, stmt.DDL)
	}
	return ddl
}

// ApplyStatementTimeoutModifier sets timeout on every statement whose DDL matches regex
func (p Plan) ApplyStatementTimeoutModifier(regex *regexp.Regexp, timeout time.Duration) Plan {
	var modifiedStmts []Statement
	for _, stmt := range p.Statements {
		if regex.MatchString(stmt.DDL) {
			stmt.Timeout = timeout
		}
		modifiedStmts = append(modifiedStmts, stmt)
	}
	p.Statements = modifiedStmts
	return p
}

func hashDDL(ddl []string) (string, error) {
	hashVal, err := hashstructure.Hash(ddl, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("hashing plan: %w", err)
	}
	return fmt.Sprintf("%x", hashVal), nil
}
