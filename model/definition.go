package model

// DomainDefinition is the root structure of a definition file. Each file
// declares one console area's list pages and the backend commands it uses.
type DomainDefinition struct {
	Domain   string              `yaml:"domain"   json:"domain"`
	Version  string              `yaml:"version"  json:"version"`
	Pages    []PageDefinition    `yaml:"pages"    json:"pages,omitempty"`
	Commands []CommandDefinition `yaml:"commands" json:"commands,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// PageDefinition describes a list page: where its items come from and how
// they may be searched, filtered, sorted and paged.
type PageDefinition struct {
	ID           string               `yaml:"id"            json:"id"`
	Title        string               `yaml:"title"         json:"title"`
	DataSource   DataSourceDefinition `yaml:"data_source"   json:"data_source"`
	IDField      string               `yaml:"id_field"      json:"id_field"`
	SearchFields []string             `yaml:"search_fields" json:"search_fields,omitempty"`
	TagField     string               `yaml:"tag_field"     json:"tag_field,omitempty"`
	Filters      []FilterDefinition   `yaml:"filters"       json:"filters,omitempty"`
	PageSize     int                  `yaml:"page_size"     json:"page_size,omitempty"`
	DefaultSort  string               `yaml:"default_sort"  json:"default_sort,omitempty"`
	SortDir      string               `yaml:"sort_dir"      json:"sort_dir,omitempty"`
	RefreshOn    []string             `yaml:"refresh_on"    json:"refresh_on,omitempty"`
	Selectable   bool                 `yaml:"selectable"    json:"selectable,omitempty"`
}

// DataSourceDefinition describes how a page fetches its full item list.
type DataSourceDefinition struct {
	Command   string         `yaml:"command"    json:"command"`
	Args      map[string]any `yaml:"args"       json:"args,omitempty"`
	ItemsPath string         `yaml:"items_path" json:"items_path,omitempty"`
}

// Filter types.
const (
	FilterSelect = "select"
	FilterNumber = "number"
	FilterText   = "text"
)

// FilterDefinition describes a filter control above a list.
type FilterDefinition struct {
	Field   string         `yaml:"field"   json:"field"`
	Label   string         `yaml:"label"   json:"label"`
	Type    string         `yaml:"type"    json:"type"`
	Options []StaticOption `yaml:"options" json:"options,omitempty"`
}

// StaticOption is a label/value pair for dropdowns and filters.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// CommandDefinition declares a backend command and the shape of its answer.
type CommandDefinition struct {
	Name       string           `yaml:"name"       json:"name"`
	Operation  OperationBinding `yaml:"operation"  json:"operation"`
	Response   ResponseShape    `yaml:"response"   json:"response"`
	Idempotent bool             `yaml:"idempotent" json:"idempotent,omitempty"`
}

// OperationBinding describes where a command is executed.
type OperationBinding struct {
	Type      string `yaml:"type"       json:"type"`
	Command   string `yaml:"command"    json:"command,omitempty"`
	ServiceID string `yaml:"service_id" json:"service_id,omitempty"`
	Handler   string `yaml:"handler"    json:"handler,omitempty"`
}

// Binding types.
const (
	BindingHTTP  = "http"
	BindingLocal = "local"
)
