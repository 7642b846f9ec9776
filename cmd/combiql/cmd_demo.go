package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/combiql/combiql/core"
)

func demoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "demo",
		Short: "Work with the built-in region/nation/customer demo",
	}
	c.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Create and populate the demo schema",
		Run:   cmdDemoSeed,
	})
	c.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Compile and execute the demo pipelines",
		Run:   cmdDemoRun,
	})
	return c
}

var demoDDL = []string{
	`DROP TABLE IF EXISTS customer`,
	`DROP TABLE IF EXISTS nation`,
	`DROP TABLE IF EXISTS region`,
	`CREATE TABLE region (
		id integer PRIMARY KEY,
		name text NOT NULL,
		comment text)`,
	`CREATE TABLE nation (
		id integer PRIMARY KEY,
		name text NOT NULL,
		region_id integer NOT NULL REFERENCES region (id),
		comment text)`,
	`CREATE TABLE customer (
		id integer PRIMARY KEY,
		name text NOT NULL,
		nation_id integer NOT NULL REFERENCES nation (id),
		acctbal numeric,
		mktsegment text,
		since date,
		profile jsonb)`,
}

var demoRegions = []string{"AFRICA", "AMERICA", "ASIA", "EUROPE", "MIDDLE EAST"}

var demoNations = map[string][]string{
	"AFRICA":      {"ALGERIA", "ETHIOPIA", "KENYA", "MOROCCO", "MOZAMBIQUE"},
	"AMERICA":     {"ARGENTINA", "BRAZIL", "CANADA", "PERU", "UNITED STATES"},
	"ASIA":        {"CHINA", "INDIA", "INDONESIA", "JAPAN", "VIETNAM"},
	"EUROPE":      {"FRANCE", "GERMANY", "ROMANIA", "RUSSIA", "UNITED KINGDOM"},
	"MIDDLE EAST": {"EGYPT", "IRAN", "IRAQ", "JORDAN", "SAUDI ARABIA"},
}

const demoCustomersPerNation = 4

func cmdDemoSeed(cmd *cobra.Command, args []string) {
	setup(cpath)

	db, err := newDB(conf)
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
	defer db.Close()

	if err := seedDemo(context.Background(), db); err != nil {
		log.Fatalf("Failed to seed demo data: %s", err)
	}
	log.Infof("Seeded %d regions, %d nations, %d customers",
		len(demoRegions), len(demoRegions)*5, len(demoRegions)*5*demoCustomersPerNation)
}

func seedDemo(ctx context.Context, db *sql.DB) error {
	for _, stmt := range demoDDL {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	faker := gofakeit.New(1)
	nationID, customerID := 0, 0

	for ri, region := range demoRegions {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO region (id, name, comment) VALUES ($1, $2, $3)`,
			ri+1, region, faker.Sentence(6)); err != nil {
			return err
		}
		for _, nation := range demoNations[region] {
			nationID++
			if _, err := db.ExecContext(ctx,
				`INSERT INTO nation (id, name, region_id, comment) VALUES ($1, $2, $3, $4)`,
				nationID, nation, ri+1, faker.Sentence(6)); err != nil {
				return err
			}
			for c := 0; c < demoCustomersPerNation; c++ {
				customerID++
				if _, err := db.ExecContext(ctx,
					`INSERT INTO customer (id, name, nation_id, acctbal, mktsegment, since, profile)
					 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
					customerID, faker.Name(), nationID,
					faker.Price(-999, 9999), faker.RandomString([]string{
						"AUTOMOBILE", "BUILDING", "FURNITURE", "HOUSEHOLD", "MACHINERY",
					}),
					faker.DateRange(faker.Date(), faker.Date()),
					fmt.Sprintf(`{"segments": [%q]}`, faker.BuzzWord())); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func cmdDemoRun(cmd *cobra.Command, args []string) {
	setup(cpath)

	db, err := newDB(conf)
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
	defer db.Close()

	engine, err := core.New(context.Background(), &core.Config{
		DBSchema:        conf.DB.Schema,
		EnableCamelcase: conf.EnableCamelcase,
		CacheSize:       conf.CacheSize,
		Logger:          log,
	}, db)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %s", err)
	}

	pipelines := []struct {
		name  string
		query *core.Query
	}{
		{"region.name", core.Nav("region", "name")},
		{"region.count()", core.Nav("region").Count()},
		{"nation.filter(region.name == AFRICA).name",
			core.Nav("nation").
				Filter(core.Nav("region", "name").Eq("AFRICA")).
				Nav("name")},
		{"region.select(name, nation_count)",
			core.Nav("region").Select(
				core.F("name", core.Nav("name")),
				core.F("nation_count", core.Nav("nation").Count()),
			)},
		{"nation.group(r: region.name).select(r, c: _.count())",
			core.Nav("nation").
				Group(core.F("r", core.Nav("region", "name"))).
				Select(
					core.F("r", core.Nav("r")),
					core.F("c", core.Nav("_").Count()),
				)},
		{"region.sort(name.desc()).take(2).name",
			core.Nav("region").
				Sort(core.Nav("name").Desc()).
				Take(2).
				Nav("name")},
	}

	for _, p := range pipelines {
		stmt, err := engine.SQL(p.query)
		if err != nil {
			log.Fatalf("%s: %s", p.name, err)
		}
		res, err := engine.Execute(context.Background(), p.query)
		if err != nil {
			log.Fatalf("%s: %s", p.name, err)
		}
		fmt.Printf("-- %s\n%s\n=> %s\n\n", p.name, stmt, res.Data)
	}
}
