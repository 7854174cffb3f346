package model

// TableSpec describes a required table within a tenant document
type TableSpec struct {
	Name    string
	Headers []string
	// Rows are seeded only when the table is first created
	Rows [][]string
}

// Table summarizes a table that exists in a document
type Table struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	Rows    int      `json:"rows"`
}
