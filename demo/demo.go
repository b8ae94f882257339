// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package demo runs a short tour of sqlaccess on a people and places
// database.
package demo

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/canonical/sqlaccess"
)

type Person struct {
	Name     string `db:"name"`
	Height   int    `db:"height_cm"`
	HomeTown string `db:"home_town"`
}

type Place struct {
	Name       string `db:"town_name"`
	Population int    `db:"population"`
}

const schema = `
CREATE TABLE people (
	name text,
	height_cm integer,
	home_town text
);
CREATE TABLE location (
	town_name text,
	population integer
);`

var templates = map[string]string{
	"person.insert": `INSERT INTO people (name, height_cm, home_town)
VALUES (/*@ p.Name */'', /*@ p.Height */0, /*@ p.HomeTown */'')`,
	"place.insert": `INSERT INTO location (town_name, population)
VALUES (/*@ l.Name */'', /*@ l.Population */0)`,
	"person.taller": `SELECT name, height_cm, home_town FROM people
WHERE height_cm > /*@ p.Height */0
ORDER BY height_cm`,
	"person.tallertowns": `SELECT p.name, p.height_cm, p.home_town, l.town_name, l.population
FROM people AS p JOIN location AS l ON p.home_town = l.town_name
WHERE p.height_cm > /*@ p.Height */0
ORDER BY p.height_cm`,
	"person.intowns": `SELECT name FROM people WHERE 1 = 1
/*% if size(towns) > 0 */ AND home_town IN /*@ towns */('') /*% end */
ORDER BY name`,
}

var templateLoader = sqlaccess.LoaderFunc(func(id string) (string, error) {
	text, ok := templates[id]
	if !ok {
		return "", fmt.Errorf("no template")
	}
	return text, nil
})

var (
	people = []Person{{"Jim", 150, "Kabul"}, {"Saba", 162, "Berlin"}, {"Dave", 169, "Brasília"}, {"Sophie", 174, "Berlin"}, {"Kiri", 168, "Cape Town"}}
	places = []Place{{"Kabul", 13000000}, {"Berlin", 3677472}, {"Brasília", 3039444}, {"Cape Town", 4710000}}
)

// Run creates the tables on db, fills them and writes the answers of a few
// queries to w.
func Run(ctx context.Context, db *sqlaccess.DB, w io.Writer) error {
	factory := sqlaccess.NewFactory()
	defer factory.Close()

	prepare := func(id string, params []sqlaccess.Param, results ...any) *sqlaccess.Statement {
		return factory.MustPrepare(sqlaccess.Operation{ID: id, SQL: templates[id], Params: params, Results: results})
	}
	insertPerson := prepare("person.insert", []sqlaccess.Param{sqlaccess.In("p", Person{})})
	tallerThan := prepare("person.taller", []sqlaccess.Param{sqlaccess.In("p", Person{})}, Person{})
	tallerTowns := prepare("person.tallertowns", []sqlaccess.Param{sqlaccess.In("p", Person{})}, Person{}, Place{})
	inTowns := prepare("person.intowns", []sqlaccess.Param{sqlaccess.In("towns", []string{})})
	insertPlace, err := factory.PrepareFrom(templateLoader, sqlaccess.Operation{
		ID:     "place.insert",
		Params: []sqlaccess.Param{sqlaccess.In("l", Place{})},
	})
	if err != nil {
		return err
	}

	if _, err := db.PlainDB().ExecContext(ctx, schema); err != nil {
		return err
	}

	tx, err := db.Begin(ctx, nil)
	if err != nil {
		return err
	}
	for _, person := range people {
		if err := tx.Query(ctx, insertPerson, person).Run(); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, place := range places {
		if err := tx.Query(ctx, insertPlace, place).Run(); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	// Find people taller than Jim.
	jim := people[0]
	iter := db.Query(ctx, tallerThan, jim).Iter()
	for iter.Next() {
		var p Person
		if err := iter.Get(&p); err != nil {
			iter.Close()
			return err
		}
		fmt.Fprintf(w, "%s is taller than %s.\n", p.Name, jim.Name)
	}
	if err := iter.Close(); err != nil {
		return err
	}

	// Find the towns of the people taller than Jim.
	var tallPeople []Person
	var tallTowns []Place
	if err := db.Query(ctx, tallerTowns, jim).GetAll(&tallPeople, &tallTowns); err != nil {
		return err
	}
	for i, p := range tallPeople {
		fmt.Fprintf(w, "%s lives in %s (population %d).\n", p.Name, tallTowns[i].Name, tallTowns[i].Population)
	}

	// List the people of some towns.
	var names []string
	if err := db.Query(ctx, inTowns, []string{"Berlin"}).GetAll(&names); err != nil {
		return err
	}
	fmt.Fprintf(w, "In Berlin: %s\n", strings.Join(names, ", "))
	return nil
}
