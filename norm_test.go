package norm

import (
	"github.com/syssam/norm/schema/field"
	"github.com/syssam/norm/schema/index"
)

// user is the model used across the package tests.
type user struct {
	id    int64
	name  string
	state string
	age   int
}

var userSpec = MustSpec("User",
	Fields(
		field.Int64("id").Primary().AutoIncrement().NotNull().Descriptor(),
		field.String("name").NotNull().Descriptor(),
		field.Enum("state").Values("pending", "active").Ordinal().Default("pending").Descriptor(),
		field.Int("age").Descriptor(),
	),
	Indexes(
		index.Fields("name").Unique().Descriptor(),
	),
)

func (u *user) Spec() *Spec { return userSpec }

func (u *user) Values() map[string]any {
	values := map[string]any{
		"name": u.name,
		"age":  u.age,
	}
	if u.id != 0 {
		values["id"] = u.id
	}
	if u.state != "" {
		values["state"] = u.state
	}
	return values
}

func (u *user) SetValues(values map[string]any) error {
	for k, v := range values {
		switch k {
		case "id":
			switch n := v.(type) {
			case int64:
				u.id = n
			case int:
				u.id = int64(n)
			}
		case "name":
			u.name, _ = v.(string)
		case "state":
			u.state, _ = v.(string)
		case "age":
			switch n := v.(type) {
			case int64:
				u.age = int(n)
			case int:
				u.age = n
			}
		}
	}
	return nil
}

func newUser() *user { return &user{} }
