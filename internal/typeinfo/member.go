// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fatih/structtag"
)

// dbTag is the parsed content of a "db" struct tag.
type dbTag struct {
	name      string
	ignore    bool
	omitEmpty bool
	omitNil   bool
}

// parseTag parses the "db" tag of a field. A field without a "db" tag has an
// empty name and no options.
func parseTag(field reflect.StructField) (dbTag, error) {
	if field.Tag == "" {
		return dbTag{}, nil
	}
	tags, err := structtag.Parse(string(field.Tag))
	if err != nil {
		return dbTag{}, fmt.Errorf("cannot parse struct tag: %w", err)
	}
	tag, err := tags.Get("db")
	if err != nil {
		// No "db" key.
		return dbTag{}, nil
	}
	if tag.Name == "-" {
		return dbTag{ignore: true}, nil
	}

	parsed := dbTag{name: strings.TrimSpace(tag.Name)}
	for _, option := range tag.Options {
		switch strings.ToLower(strings.TrimSpace(option)) {
		case "omitempty":
			parsed.omitEmpty = true
		case "omitnil":
			parsed.omitNil = true
		default:
			return dbTag{}, fmt.Errorf("unexpected db tag option %q", option)
		}
	}
	if parsed.name == "" && len(tag.Options) == 0 {
		return dbTag{}, fmt.Errorf("empty db tag")
	}
	return parsed, nil
}

// getters lists the exported methods of t that take no arguments and return a
// single value.
func getters(t reflect.Type) []*Member {
	var members []*Member
	pt := reflect.PointerTo(t)
	for i := 0; i < pt.NumMethod(); i++ {
		method := pt.Method(i)
		if !method.IsExported() {
			continue
		}
		// The receiver is the first input.
		if method.Type.NumIn() != 1 || method.Type.NumOut() != 1 {
			continue
		}
		_, onValue := t.MethodByName(method.Name)
		members = append(members, &Member{
			Name:            method.Name,
			Type:            method.Type.Out(0),
			getter:          true,
			pointerReceiver: !onValue,
		})
	}
	return members
}
