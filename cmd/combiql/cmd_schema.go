package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/combiql/combiql/core"
)

func schemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Reflect and print the database schema",
		Run:   cmdSchema,
	}
}

func cmdSchema(cmd *cobra.Command, args []string) {
	setup(cpath)

	db, err := newDB(conf)
	if err != nil {
		log.Fatalf("Failed to connect to database: %s", err)
	}
	defer db.Close()

	engine, err := core.New(context.Background(), &core.Config{
		DBSchema:        conf.DB.Schema,
		EnableCamelcase: conf.EnableCamelcase,
		Logger:          log,
	}, db)
	if err != nil {
		log.Fatalf("Failed to discover schema: %s", err)
	}

	for _, t := range engine.Schema() {
		fmt.Printf("%s\n", t.Name)
		for _, c := range t.Columns {
			suffix := ""
			if c.PrimaryKey {
				suffix = " [pk]"
			}
			if c.FKeyTable != "" {
				suffix += fmt.Sprintf(" -> %s.%s", c.FKeyTable, c.FKeyCol)
			}
			fmt.Printf("  %-16s %s%s\n", c.Name, c.Type, suffix)
		}
	}
}
