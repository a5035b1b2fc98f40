package txdict

import (
	"fmt"
	"strings"
)

// Kind is the mutation intent of one queued operation.
type Kind int

const (
	// KindAdd inserts a new record; fails with a conflict if the key exists.
	KindAdd Kind = iota + 1
	// KindTryAdd inserts a new record; reports Succeeded=false if the key exists.
	KindTryAdd
	// KindUpdate replaces an existing record; fails with not-found if absent.
	KindUpdate
	// KindTryUpdate replaces an existing record; a missing key is a no-op.
	KindTryUpdate
	// KindRemove deletes an existing record; fails with not-found if absent.
	KindRemove
	// KindTryRemove deletes a record if present; a missing key is a no-op.
	KindTryRemove
	// KindAddOrUpdate updates the record if present, inserts it otherwise.
	KindAddOrUpdate
)

var kindNames = map[Kind]string{
	KindAdd:         "add",
	KindTryAdd:      "try_add",
	KindUpdate:      "update",
	KindTryUpdate:   "try_update",
	KindRemove:      "remove",
	KindTryRemove:   "try_remove",
	KindAddOrUpdate: "add_or_update",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Try reports whether k reports failure to apply as data instead of an error.
func (k Kind) Try() bool {
	return k == KindTryAdd || k == KindTryUpdate || k == KindTryRemove
}

// needsAdd reports whether k requires a ValueIfAdding producer.
func (k Kind) needsAdd() bool {
	return k == KindAdd || k == KindTryAdd || k == KindAddOrUpdate
}

// needsUpdate reports whether k requires a ValueIfUpdating producer.
func (k Kind) needsUpdate() bool {
	return k == KindUpdate || k == KindTryUpdate || k == KindAddOrUpdate
}

// ParseKind accepts snake_case ("try_add"), kebab-case and CamelCase ("TryAdd") names.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
	for k, name := range kindNames {
		if strings.ReplaceAll(name, "_", "") == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown mutation kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("invalid mutation kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ChangeKind is the kind of change a result or event reports.
type ChangeKind int

const (
	ChangeAdd ChangeKind = iota + 1
	ChangeUpdate
	ChangeRemove
)

func (c ChangeKind) String() string {
	switch c {
	case ChangeAdd:
		return "add"
	case ChangeUpdate:
		return "update"
	case ChangeRemove:
		return "remove"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

func (c ChangeKind) MarshalText() ([]byte, error) {
	if c < ChangeAdd || c > ChangeRemove {
		return nil, fmt.Errorf("invalid change kind %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *ChangeKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "add":
		*c = ChangeAdd
	case "update":
		*c = ChangeUpdate
	case "remove":
		*c = ChangeRemove
	default:
		return fmt.Errorf("unknown change kind %q", text)
	}
	return nil
}

// changeKind is the ChangeKind reported by results of intent k.
// AddOrUpdate always reports ChangeUpdate, whether it inserted or updated.
func (k Kind) changeKind() ChangeKind {
	switch k {
	case KindAdd, KindTryAdd:
		return ChangeAdd
	case KindRemove, KindTryRemove:
		return ChangeRemove
	default:
		return ChangeUpdate
	}
}
