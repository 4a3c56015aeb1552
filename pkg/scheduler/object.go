package scheduler

import (
	"fmt"
	"strings"

	"github.com/stripe/schema-planner/internal/sqlident"
	"github.com/stripe/schema-planner/pkg/classify"
)

type ObjectType string

const (
	ObjectTypeTable     ObjectType = "TABLE"
	ObjectTypeView      ObjectType = "VIEW"
	ObjectTypeFunction  ObjectType = "FUNCTION"
	ObjectTypeProcedure ObjectType = "PROCEDURE"
	ObjectTypeTrigger   ObjectType = "TRIGGER"
	ObjectTypePackage   ObjectType = "PACKAGE"
)

// objectTypePriority orders the first attempt of each object: tables first, packages last
var objectTypePriority = map[ObjectType]int{
	ObjectTypeTable:     0,
	ObjectTypeView:      1,
	ObjectTypeFunction:  2,
	ObjectTypeProcedure: 3,
	ObjectTypeTrigger:   4,
	ObjectTypePackage:   5,
}

// ParseObjectType parses an object keyword, e.g., "view" or "PROC"
func ParseObjectType(s string) (ObjectType, error) {
	t := ObjectType(strings.ToUpper(strings.TrimSpace(s)))
	if t == "PROC" {
		t = ObjectTypeProcedure
	}
	if _, ok := objectTypePriority[t]; !ok {
		return "", fmt.Errorf("unknown object type %q", s)
	}
	return t, nil
}

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	// StatusSkipped means the object is waiting on other objects it reported missing
	StatusSkipped Status = "SKIPPED"
)

func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// MigrationObject is a schema object whose creation order is discovered by attempting it
type MigrationObject struct {
	Name       string
	Schema     string
	Type       ObjectType
	SourceCode string
	// TargetCode is what gets executed. It defaults to SourceCode.
	TargetCode string

	Status       Status
	AttemptCount int
	MaxAttempts  int
	// Dependencies are the qualified names the most recent failure reported missing. For a skipped object, only the
	// managed names that have not been created yet.
	Dependencies   []string
	DependencyKind classify.DependencyKind
	LastError      string
}

// Key is the object's identity, e.g., "DBO.V_ORDERS"
func (o MigrationObject) Key() string {
	return sqlident.QualifiedKey(o.Schema, o.Name)
}

func (o MigrationObject) String() string {
	return fmt.Sprintf("%s %s", o.Type, o.Key())
}

func (o MigrationObject) clone() MigrationObject {
	o.Dependencies = append([]string(nil), o.Dependencies...)
	return o
}

// less orders objects by type priority, then schema, then name
func less(a, b *MigrationObject) bool {
	if pa, pb := objectTypePriority[a.Type], objectTypePriority[b.Type]; pa != pb {
		return pa < pb
	}
	if sa, sb := sqlident.Normalize(a.Schema), sqlident.Normalize(b.Schema); sa != sb {
		return sa < sb
	}
	return sqlident.Normalize(a.Name) < sqlident.Normalize(b.Name)
}
