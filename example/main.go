// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Command example runs a few queries on a database configured from DBLITE_*
// environment variables or a .env file, by default an in-memory SQLite
// database. Set DBLITE_TRACE=1 to log the SQL run.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/canonical/dblite"
)

type Location struct {
	ID   int    `db:"room_id"`
	Name string `db:"name"`
	Team string `db:"team"`
}

type Person struct {
	Name string `db:"name"`
	ID   int    `db:"id"`
	Team string `db:"team"`
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := dblite.ConfigFromEnv(".env")
	if err != nil {
		return err
	}
	if cfg.DSN == "" {
		cfg.DSN = ":memory:"
	}
	level := slog.LevelInfo
	if os.Getenv("DBLITE_TRACE") != "" {
		level = dblite.LevelTrace
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	db, err := dblite.Open(ctx, cfg, dblite.WithLogger(logger))
	if err != nil {
		return err
	}
	defer dblite.DefaultRegistry().Close(ctx)

	err = db.ExecuteScript(ctx, `
	CREATE TABLE person (
		name text,
		id integer PRIMARY KEY,
		team text
	);
	CREATE TABLE location (
		room_id integer PRIMARY KEY,
		name text,
		team text
	)`)
	if err != nil {
		return err
	}
	defer db.ExecuteScript(ctx, "DROP TABLE person; DROP TABLE location;")

	var people = []any{
		Person{"Alastair", 1, "engineering"},
		Person{"Ed", 2, "engineering"},
		Person{"Marco", 3, "engineering"},
		Person{"Pedro", 4, "management"},
		Person{"Serdar", 5, "presentation engineering"},
		Person{"Joe", 6, "marketing"},
		Person{"Ben", 7, "legal"},
		Person{"Sam", 8, "hr"},
		Person{"Mark", 9, "leadership"},
		Person{"Gustavo", 10, "leadership"},
	}
	if _, err := db.InsertMany(ctx, "person", people...); err != nil {
		return err
	}

	locations := []Location{
		{1, "Basement", "engineering"},
		{34, "Floor 2", "presentation engineering"},
		{19, "Floor 3", "management"},
		{66, "The Market", "marketing"},
		{7, "Court", "legal"},
		{9, "Floors 4 to 89", "hr"},
		{32, "Penthouse", "leadership"},
	}
	err = db.WithTransaction(ctx, func(ctx context.Context, tx *dblite.Transaction) error {
		for _, l := range locations {
			if _, err := tx.Insert(ctx, "location", l); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Find someone on the engineering team.
	pal, err := db.FetchOne(ctx, dblite.Query{Table: "person", Where: dblite.M{"team": "engineering"}})
	if err != nil {
		return err
	}
	fmt.Printf("%s is on the engineering team.\n", pal["name"])

	// Find out who is in the first location.
	dwellers, err := db.FetchAll(ctx, dblite.Query{
		Table:   "person",
		Columns: []string{"name"},
		Where:   dblite.Where{{"team", locations[0].Team}},
		Order:   "id",
	})
	if err != nil {
		return err
	}
	for _, p := range dwellers {
		fmt.Printf("%s, ", p["name"])
	}
	fmt.Printf("are in %s.\n", locations[0].Name)

	// Print out who is in which room.
	cur, err := db.Execute(ctx, `
		SELECT l.name AS room, p.name
		FROM location AS l
		JOIN person AS p ON p.team = l.team
		ORDER BY l.room_id, p.id`)
	if err != nil {
		return err
	}
	rows, err := cur.FetchAll()
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Printf("%s is in %s\n", row["name"], row["room"])
	}
	return nil
}
