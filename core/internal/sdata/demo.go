package sdata

// DemoSchema returns the region/nation/customer schema used by the demo
// CLI and throughout the test suites.
//
//	region(id, name, comment)
//	nation(id, name, region_id -> region.id, comment)
//	customer(id, name, nation_id -> nation.id, acctbal, mktsegment, since, profile)
func DemoSchema() *DBSchema {
	region := NewDBTable("public", "region", []DBColumn{
		{Table: "region", Name: "id", Type: "integer", NotNull: true, PrimaryKey: true},
		{Table: "region", Name: "name", Type: "text", NotNull: true},
		{Table: "region", Name: "comment", Type: "text"},
	})
	nation := NewDBTable("public", "nation", []DBColumn{
		{Table: "nation", Name: "id", Type: "integer", NotNull: true, PrimaryKey: true},
		{Table: "nation", Name: "name", Type: "text", NotNull: true},
		{Table: "nation", Name: "region_id", Type: "integer", NotNull: true, FKeyTable: "region", FKeyCol: "id"},
		{Table: "nation", Name: "comment", Type: "text"},
	})
	customer := NewDBTable("public", "customer", []DBColumn{
		{Table: "customer", Name: "id", Type: "integer", NotNull: true, PrimaryKey: true},
		{Table: "customer", Name: "name", Type: "text", NotNull: true},
		{Table: "customer", Name: "nation_id", Type: "integer", NotNull: true, FKeyTable: "nation", FKeyCol: "id"},
		{Table: "customer", Name: "acctbal", Type: "numeric"},
		{Table: "customer", Name: "mktsegment", Type: "text"},
		{Table: "customer", Name: "since", Type: "date"},
		{Table: "customer", Name: "profile", Type: "jsonb"},
	})

	s, err := NewDBSchema([]*DBTable{region, nation, customer}, false)
	if err != nil {
		panic(err)
	}
	return s
}
