package model

import "testing"

func user(id, name string) UserSlim {
	return UserSlim{ID: id, DisplayName: name}
}

func TestResolveDisplayNameExplicitNameWins(t *testing.T) {
	roster := []UserSlim{user("u1", "Anna Andersen"), user("u2", "Bo Berg")}
	got := ResolveDisplayName("Legegruppen", roster, "u1")
	if got != "Legegruppen" {
		t.Errorf("got %q, want %q", got, "Legegruppen")
	}
}

func TestResolveDisplayNameOneOtherFullName(t *testing.T) {
	roster := []UserSlim{user("u1", "Anna Andersen"), user("u2", "Bo Berg")}
	got := ResolveDisplayName("", roster, "u1")
	if got != "Bo Berg" {
		t.Errorf("got %q, want %q", got, "Bo Berg")
	}
}

func TestResolveDisplayNameFewOthersJoinsFullRoster(t *testing.T) {
	// With two or three other participants the full roster is joined,
	// viewer included. Compatibility behavior, do not "fix".
	roster := []UserSlim{
		user("u1", "Anna Andersen"),
		user("u2", "Bo Berg"),
		user("u3", "Clara Clausen"),
	}
	got := ResolveDisplayName("", roster, "u1")
	if got != "Anna, Bo, Clara" {
		t.Errorf("got %q, want %q", got, "Anna, Bo, Clara")
	}

	roster = append(roster, user("u4", "Dora Dam"))
	got = ResolveDisplayName("", roster, "u1")
	if got != "Anna, Bo, Clara, Dora" {
		t.Errorf("got %q, want %q", got, "Anna, Bo, Clara, Dora")
	}
}

func TestResolveDisplayNameManyOthersCollapses(t *testing.T) {
	roster := []UserSlim{
		user("u1", "Anna Andersen"),
		user("u2", "Bo Berg"),
		user("u3", "Clara Clausen"),
		user("u4", "Dora Dam"),
		user("u5", "Erik Eskildsen"),
	}
	// Four others: first names of the first three others, remainder
	// counted against the full roster (5 - 3 = 2).
	got := ResolveDisplayName("", roster, "u1")
	if got != "Bo, Clara, Dora og 2 andre" {
		t.Errorf("got %q, want %q", got, "Bo, Clara, Dora og 2 andre")
	}
}

func TestResolveDisplayNameNoOthers(t *testing.T) {
	roster := []UserSlim{user("u1", "Anna Andersen")}
	if got := ResolveDisplayName("", roster, "u1"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if got := ResolveDisplayName("", nil, "u1"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestFirstName(t *testing.T) {
	cases := map[string]string{
		"Anna Andersen":     "Anna",
		"Anna":              "Anna",
		"Anna Marie Berg":   "Anna",
		"":                  "",
		" LeadingSpaceName": " LeadingSpaceName",
	}
	for in, want := range cases {
		if got := firstName(in); got != want {
			t.Errorf("firstName(%q) = %q, want %q", in, got, want)
		}
	}
}
