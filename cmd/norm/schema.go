package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/norm/dialect"
	"github.com/syssam/norm/dialect/sql/schema"
)

type yamlFile struct {
	Tables []yamlTable `yaml:"tables"`
}

type yamlTable struct {
	Name    string       `yaml:"name"`
	Columns []yamlColumn `yaml:"columns"`
	Indexes []yamlIndex  `yaml:"indexes"`
}

type yamlColumn struct {
	Name          string `yaml:"name"`
	Type          string `yaml:"type"`
	Primary       bool   `yaml:"primary"`
	AutoIncrement bool   `yaml:"auto_increment"`
	NotNull       bool   `yaml:"not_null"`
	Comment       string `yaml:"comment"`
}

type yamlIndex struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique"`
}

// loadTables reads the declared schema file into diffable table
// snapshots. Tables without a primary column get a surrogate id key,
// matching the model-layer default.
func loadTables(filename, d string) ([]*schema.Table, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	var yf yamlFile
	if err := yaml.Unmarshal(data, &yf); err != nil {
		return nil, fmt.Errorf("unmarshalling %s: %w", filename, err)
	}
	tables := make([]*schema.Table, 0, len(yf.Tables))
	for _, yt := range yf.Tables {
		t := &schema.Table{Name: yt.Name}
		for _, yc := range yt.Columns {
			c := &schema.Column{
				Name:      yc.Name,
				Type:      yc.Type,
				NotNull:   yc.NotNull,
				Increment: yc.AutoIncrement,
				Comment:   yc.Comment,
			}
			t.Columns = append(t.Columns, c)
			if yc.Primary {
				if t.PrimaryKey != nil {
					return nil, fmt.Errorf("table %q declares multiple primary columns", yt.Name)
				}
				t.PrimaryKey = c
			}
		}
		if t.PrimaryKey == nil {
			pk := &schema.Column{Name: "id", Type: surrogateType(d), NotNull: true, Increment: true}
			t.Columns = append([]*schema.Column{pk}, t.Columns...)
			t.PrimaryKey = pk
		}
		for _, yi := range yt.Indexes {
			if len(yi.Columns) == 0 {
				return nil, fmt.Errorf("table %q declares an index without columns", yt.Name)
			}
			t.Indexes = append(t.Indexes, &schema.Index{
				Name:    yi.Name,
				Unique:  yi.Unique,
				Columns: yi.Columns,
			})
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func surrogateType(d string) string {
	if d == dialect.SQLite {
		return "integer"
	}
	return "bigint"
}
