package engine_test

import (
	"context"
	"fmt"

	"github.com/auth0/auth0-deploy-cli-sub002/pkg/engine"
)

// Example_calculate shows how two rules trading their unique order values are
// resolved through temporary conflict updates.
func Example_calculate() {
	desc := engine.Descriptor{
		Type:         "rules",
		Identifiers:  []engine.Identifier{{"id"}, {"name"}},
		UniqueFields: []string{"order"},
	}

	existing := []engine.Item{
		{"id": "rul_1", "name": "enrich-profile", "order": 1},
		{"id": "rul_2", "name": "block-ips", "order": 2},
		{"id": "rul_3", "name": "legacy", "order": 3},
	}
	desired := []engine.Item{
		{"name": "enrich-profile", "order": 2},
		{"name": "block-ips", "order": 1},
		{"name": "add-roles", "order": 4},
	}

	changes := engine.Calculate(desc, desired, existing, false)

	for _, c := range changes.Conflicts {
		fmt.Printf("conflict %s -> order %v\n", c["name"], c["order"])
	}
	for _, u := range changes.Update {
		fmt.Printf("update %s (%s) -> order %v\n", u["name"], u["id"], u["order"])
	}
	for _, c := range changes.Create {
		fmt.Printf("create %s\n", c["name"])
	}
	for _, d := range changes.Delete {
		fmt.Printf("delete candidate %s\n", d["name"])
	}

	// Output:
	// conflict enrich-profile -> order 5
	// conflict block-ips -> order 6
	// update enrich-profile (rul_1) -> order 2
	// update block-ips (rul_2) -> order 1
	// create add-roles
	// delete candidate legacy
}

// Example_fetchAll shows the offset listing style being drained page by page.
func Example_fetchAll() {
	lister := engine.OffsetLister{
		PageSize: 2,
		ListPage: func(ctx context.Context, page, perPage int) (engine.OffsetPage, error) {
			all := []engine.Item{{"name": "a"}, {"name": "b"}, {"name": "c"}}
			start := page * perPage
			end := start + perPage
			if end > len(all) {
				end = len(all)
			}
			fmt.Printf("page %d\n", page)
			return engine.OffsetPage{Items: all[start:end], Total: len(all)}, nil
		},
	}

	items, err := engine.FetchAll(context.Background(), lister)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(len(items), "items")

	// Output:
	// page 0
	// page 1
	// 3 items
}
