package engine_test

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/afero"

	"github.com/rotaworks/schedsync/internal/db"
	"github.com/rotaworks/schedsync/internal/engine"
	"github.com/rotaworks/schedsync/internal/files"
	"github.com/rotaworks/schedsync/internal/schema"
	"github.com/rotaworks/schedsync/internal/storage"
)

// ExampleEngine_ForceSyncNow shows two authors editing the same shared
// folder and one of them merging both sets of changes.
func ExampleEngine_ForceSyncNow() {
	ctx := context.Background()
	store := storage.NewDir(afero.NewMemMapFs(), "/shared")
	codec := db.NewCodec(db.DefaultOptions())

	fm, err := files.New(store)
	if err != nil {
		log.Fatal(err)
	}
	base, err := db.Create(ctx, `
		CREATE TABLE shifts (sync_id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO shifts VALUES (1, 'Early'), (2, 'Late');`)
	if err != nil {
		log.Fatal(err)
	}
	if err := fm.InitBase(ctx, base); err != nil {
		log.Fatal(err)
	}

	alice, err := engine.New(fm, codec, "alice")
	if err != nil {
		log.Fatal(err)
	}
	bob, err := engine.New(fm, codec, "bob")
	if err != nil {
		log.Fatal(err)
	}

	bob.Tracker().TrackUpdate("shifts", 2, "name", schema.Text("Late"), schema.Text("Night"))
	if _, err := bob.Save(ctx); err != nil {
		log.Fatal(err)
	}

	alice.Tracker().TrackUpdate("shifts", 1, "name", schema.Text("Early"), schema.Text("Dawn"))
	res, err := alice.ForceSyncNow(ctx)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Outcome, res.Participants)

	data, err := fm.ReadBase(ctx)
	if err != nil {
		log.Fatal(err)
	}
	_, ds, err := codec.Decode(ctx, data)
	if err != nil {
		log.Fatal(err)
	}
	for _, id := range ds.IDs("shifts") {
		fmt.Println(id, ds.Row("shifts", id).Get("name"))
	}

	// Output:
	// merged [alice bob]
	// 1 Dawn
	// 2 Night
}
