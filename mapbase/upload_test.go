// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"

	"osmbase.io/osmbase/mapbase"
	"osmbase.io/osmbase/mapbase/mapbasetest"
)

func TestUploadDiff_Create(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		// a node, a way over it and a relation over both, all under
		// placeholder ids resolved within the same diff
		result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 10, Lat: 50}),
				mapbasetest.CreateNodeAction(changesetID, -2, mapbase.Point{Lon: 10.1, Lat: 50.1}),
				mapbasetest.CreateWayAction(changesetID, -3,
					mapbase.MustTypedID(mapbase.TypeNode, -1),
					mapbase.MustTypedID(mapbase.TypeNode, -2),
				),
				mapbasetest.CreateRelationAction(changesetID, -4,
					mapbase.MustTypedID(mapbase.TypeNode, -1),
					mapbase.MustTypedID(mapbase.TypeWay, -3),
				),
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Entries, 4)

		for i, entry := range result.Entries {
			require.Equal(t, mapbase.ActionCreate, entry.Kind, i)
			require.True(t, entry.OldTypedID.IsPlaceholder(), i)
			require.False(t, entry.NewTypedID.IsPlaceholder(), i)
			require.EqualValues(t, 1, entry.NewVersion, i)
			require.False(t, entry.Skipped, i)
		}

		nodeID := result.Entries[0].NewTypedID
		wayID := result.Entries[2].NewTypedID
		relationID := result.Entries[3].NewTypedID

		// placeholder members were remapped to the assigned ids
		way, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: wayID})
		require.NoError(t, err)
		require.Equal(t, mapbase.TypedIDs{nodeID, result.Entries[1].NewTypedID}, way.Members)
		require.Equal(t, changesetID, way.ChangesetID)

		relation, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: relationID})
		require.NoError(t, err)
		require.Equal(t, mapbase.TypedIDs{nodeID, wayID}, relation.Members)

		node, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: nodeID})
		require.NoError(t, err)
		require.Equal(t, &mapbase.Point{Lon: 10, Lat: 50}, node.Point)
		require.True(t, node.Latest)
		require.True(t, node.Visible)

		changeset, err := db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID, WithBounds: true})
		require.NoError(t, err)
		require.EqualValues(t, 4, changeset.Size)
		require.EqualValues(t, 4, changeset.NumCreate)
		require.EqualValues(t, 0, changeset.NumModify)
		require.NotEmpty(t, changeset.Bounds)
		require.True(t, changeset.Bounds[0].Contains(mapbase.Point{Lon: 10, Lat: 50}))
		require.True(t, changeset.IsOpen())
	})
}

func TestUploadDiff_ModifyDeleteHistory(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)
		nodeID := mapbasetest.CreateNode(ctx, t, db, mapbasetest.DefaultUser, changesetID, mapbase.Point{Lon: 10, Lat: 50})

		moved := mapbase.Point{Lon: 11, Lat: 51}
		result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{{
				Kind: mapbase.ActionModify,
				Element: mapbase.Element{
					TypedID:     nodeID,
					Version:     2,
					ChangesetID: changesetID,
					Visible:     true,
					Point:       &moved,
					Tags:        mapbase.Tags{"name": "moved"},
				},
			}},
		})
		require.NoError(t, err)
		require.Equal(t, nodeID, result.Entries[0].NewTypedID)
		require.EqualValues(t, 2, result.Entries[0].NewVersion)

		node, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: nodeID})
		require.NoError(t, err)
		require.EqualValues(t, 2, node.Version)
		require.Equal(t, &moved, node.Point)

		result, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions:     []mapbase.DiffAction{mapbasetest.DeleteAction(changesetID, nodeID, 3, false)},
		})
		require.NoError(t, err)
		require.Zero(t, result.Entries[0].NewTypedID)
		require.Zero(t, result.Entries[0].NewVersion)

		// the current version is a tombstone
		_, err = db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: nodeID})
		require.True(t, mapbase.ErrElementGone.Has(err))

		history, err := db.GetElementVersions(ctx, mapbase.GetElementVersions{TypedID: nodeID})
		require.NoError(t, err)
		require.Len(t, history, 3)
		require.True(t, history[0].Visible)
		require.True(t, history[1].Visible)
		require.False(t, history[2].Visible)
		require.Empty(t, history[2].Tags)
		require.Nil(t, history[2].Point)
		require.True(t, history[2].Latest)
		require.False(t, history[0].Latest)

		changeset, err := db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID})
		require.NoError(t, err)
		require.EqualValues(t, 3, changeset.Size)
		require.EqualValues(t, 1, changeset.NumCreate)
		require.EqualValues(t, 1, changeset.NumModify)
		require.EqualValues(t, 1, changeset.NumDelete)
	})
}

func TestUploadDiff_VersionConflict(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)
		nodeID := mapbasetest.CreateNode(ctx, t, db, mapbasetest.DefaultUser, changesetID, mapbase.Point{Lon: 10, Lat: 50})

		point := mapbase.Point{Lon: 11, Lat: 51}
		for _, version := range []int64{1, 3} {
			_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
				User:        mapbasetest.DefaultUser,
				ChangesetID: changesetID,
				Actions: []mapbase.DiffAction{{
					Kind: mapbase.ActionModify,
					Element: mapbase.Element{
						TypedID:     nodeID,
						Version:     version,
						ChangesetID: changesetID,
						Visible:     true,
						Point:       &point,
					},
				}},
			})
			require.True(t, mapbase.ErrVersionConflict.Has(err), "version %d", version)
		}

		// create over an existing element must not claim version 1 either
		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{{
				Kind: mapbase.ActionCreate,
				Element: mapbase.Element{
					TypedID:     nodeID,
					Version:     1,
					ChangesetID: changesetID,
					Visible:     true,
					Point:       &point,
				},
			}},
		})
		require.Error(t, err)

		// nothing changed
		node, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: nodeID})
		require.NoError(t, err)
		require.EqualValues(t, 1, node.Version)
	})
}

func TestUploadDiff_ChangesetChecks(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)
		otherChangesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		// element naming a different changeset than the upload target
		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(otherChangesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
			},
		})
		require.True(t, mapbase.ErrChangesetMismatch.Has(err))

		// upload by a different user
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbase.User{ID: 99},
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
			},
		})
		require.True(t, mapbase.ErrChangesetAccessDenied.Has(err))

		// upload into a missing changeset
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: 12345,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(12345, -1, mapbase.Point{Lon: 1, Lat: 1}),
			},
		})
		require.True(t, mapbase.ErrChangesetNotFound.Has(err))

		// upload into a closed changeset
		require.NoError(t, db.CloseChangeset(ctx, mapbase.CloseChangeset{
			ChangesetID: changesetID, User: mapbasetest.DefaultUser,
		}))
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
			},
		})
		require.True(t, mapbase.ErrChangesetClosed.Has(err))
	})
}

func TestUploadDiff_DeleteChecks(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 10, Lat: 50}),
				mapbasetest.CreateNodeAction(changesetID, -2, mapbase.Point{Lon: 10.1, Lat: 50.1}),
				mapbasetest.CreateWayAction(changesetID, -3,
					mapbase.MustTypedID(mapbase.TypeNode, -1),
					mapbase.MustTypedID(mapbase.TypeNode, -2),
				),
			},
		})
		require.NoError(t, err)
		nodeID := result.Entries[0].NewTypedID
		wayID := result.Entries[2].NewTypedID

		// a referenced element cannot be deleted outright
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions:     []mapbase.DiffAction{mapbasetest.DeleteAction(changesetID, nodeID, 2, false)},
		})
		require.True(t, mapbase.ErrElementInUse.Has(err))

		// if-unused keeps it and reports the current version
		result, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions:     []mapbase.DiffAction{mapbasetest.DeleteAction(changesetID, nodeID, 2, true)},
		})
		require.NoError(t, err)
		require.True(t, result.Entries[0].Skipped)
		require.Equal(t, nodeID, result.Entries[0].NewTypedID)
		require.EqualValues(t, 1, result.Entries[0].NewVersion)

		node, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: nodeID})
		require.NoError(t, err)
		require.EqualValues(t, 1, node.Version)

		// a skipped delete counts for nothing in the changeset
		changeset, err := db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID})
		require.NoError(t, err)
		require.EqualValues(t, 3, changeset.Size)

		// deleting the way first frees the node within the same diff
		result, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.DeleteAction(changesetID, wayID, 2, false),
				mapbasetest.DeleteAction(changesetID, nodeID, 2, false),
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Entries, 2)

		// a second delete of the same element fails
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions:     []mapbase.DiffAction{mapbasetest.DeleteAction(changesetID, nodeID, 3, false)},
		})
		require.True(t, mapbase.ErrAlreadyDeleted.Has(err))

		// deleting something that never existed
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.DeleteAction(changesetID, mapbase.MustTypedID(mapbase.TypeNode, 987654), 1, false),
			},
		})
		require.True(t, mapbase.ErrElementNotFound.Has(err))
	})
}

func TestUploadDiff_MemberNotFound(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		// way over nodes that do not exist
		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateWayAction(changesetID, -1,
					mapbase.MustTypedID(mapbase.TypeNode, 111111),
					mapbase.MustTypedID(mapbase.TypeNode, 222222),
				),
			},
		})
		require.True(t, mapbase.ErrMemberNotFound.Has(err))

		// way over an unknown placeholder
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
				mapbasetest.CreateWayAction(changesetID, -2,
					mapbase.MustTypedID(mapbase.TypeNode, -1),
					mapbase.MustTypedID(mapbase.TypeNode, -5),
				),
			},
		})
		require.True(t, mapbase.ErrMemberNotFound.Has(err))

		// relation over a deleted node
		nodeID := mapbasetest.CreateNode(ctx, t, db, mapbasetest.DefaultUser, changesetID, mapbase.Point{Lon: 2, Lat: 2})
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions:     []mapbase.DiffAction{mapbasetest.DeleteAction(changesetID, nodeID, 2, false)},
		})
		require.NoError(t, err)
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateRelationAction(changesetID, -1, nodeID),
			},
		})
		require.True(t, mapbase.ErrMemberNotFound.Has(err))
	})
}

func TestUploadDiff_ModifyInDiffElement(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		moved := mapbase.Point{Lon: 3, Lat: 3}
		result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 2, Lat: 2}),
				{
					Kind: mapbase.ActionModify,
					Element: mapbase.Element{
						TypedID:     mapbase.MustTypedID(mapbase.TypeNode, -1),
						Version:     2,
						ChangesetID: changesetID,
						Visible:     true,
						Point:       &moved,
					},
				},
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Entries, 2)
		require.EqualValues(t, 2, result.Entries[1].NewVersion)
		require.Equal(t, result.Entries[0].NewTypedID, result.Entries[1].NewTypedID)

		node, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: result.Entries[0].NewTypedID})
		require.NoError(t, err)
		require.EqualValues(t, 2, node.Version)
		require.Equal(t, &moved, node.Point)
	})
}

func TestUploadDiff_InvalidPayloads(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		// create must use a placeholder id
		point := mapbase.Point{Lon: 1, Lat: 1}
		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{{
				Kind: mapbase.ActionCreate,
				Element: mapbase.Element{
					TypedID:     mapbase.MustTypedID(mapbase.TypeNode, 7),
					Version:     1,
					ChangesetID: changesetID,
					Visible:     true,
					Point:       &point,
				},
			}},
		})
		require.True(t, mapbase.ErrInvalidRequest.Has(err))

		// duplicate placeholder
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, point),
				mapbasetest.CreateNodeAction(changesetID, -1, point),
			},
		})
		require.True(t, mapbase.ErrInvalidRequest.Has(err))

		// node without coordinates
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{{
				Kind: mapbase.ActionCreate,
				Element: mapbase.Element{
					TypedID:     mapbase.MustTypedID(mapbase.TypeNode, -1),
					Version:     1,
					ChangesetID: changesetID,
					Visible:     true,
				},
			}},
		})
		require.True(t, mapbase.ErrInvalidRequest.Has(err))

		// the failed uploads left nothing behind
		changeset, err := db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID})
		require.NoError(t, err)
		require.Zero(t, changeset.Size)
		sequenceID, err := db.CurrentSequenceID(ctx)
		require.NoError(t, err)
		require.Zero(t, sequenceID)
	})
}

func TestUploadDiff_TimeIntegrity(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)
		mapbasetest.CreateNode(ctx, t, db, mapbasetest.DefaultUser, changesetID, mapbase.Point{Lon: 1, Lat: 1})

		// a clock running behind the committed history must refuse writes
		db.TestingSetNow(func() time.Time { return time.Now().Add(-time.Hour) })
		defer db.TestingSetNow(time.Now)

		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 2, Lat: 2}),
			},
		})
		require.True(t, mapbase.ErrTimeIntegrity.Has(err))
	})
}

func TestUploadDiff_Concurrent(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		const workers = 8

		changesets := make([]int64, workers)
		for i := range changesets {
			changesets[i] = mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)
		}

		// competing uploads race for the same fresh element ids and must all
		// land through the retry loop
		assigned := make([]mapbase.TypedID, workers)
		for i := 0; i < workers; i++ {
			i := i
			ctx.Go(func() error {
				result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
					User:        mapbasetest.DefaultUser,
					ChangesetID: changesets[i],
					Actions: []mapbase.DiffAction{
						mapbasetest.CreateNodeAction(changesets[i], -1, mapbase.Point{
							Lon: float64(i), Lat: float64(i),
						}),
					},
				})
				if err != nil {
					return err
				}
				assigned[i] = result.Entries[0].NewTypedID
				return nil
			})
		}
		ctx.Wait()

		seen := map[mapbase.TypedID]bool{}
		for i, id := range assigned {
			require.False(t, id.IsPlaceholder(), strconv.Itoa(i))
			require.False(t, seen[id], "id %v assigned twice", id)
			seen[id] = true
		}
		require.Len(t, seen, workers)

		sequenceID, err := db.CurrentSequenceID(ctx)
		require.NoError(t, err)
		require.EqualValues(t, workers, sequenceID)
	})
}

func TestUploadDiff_SelfReference(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.DefaultUser)

		// a relation may list its own placeholder as a member
		result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateRelationAction(changesetID, -1,
					mapbase.MustTypedID(mapbase.TypeRelation, -1),
				),
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Entries, 1)

		relationID := result.Entries[0].NewTypedID
		relation, err := db.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: relationID})
		require.NoError(t, err)
		require.Equal(t, mapbase.TypedIDs{relationID}, relation.Members)

		// and keep referencing itself across a modify
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.DefaultUser,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{{
				Kind: mapbase.ActionModify,
				Element: mapbase.Element{
					TypedID:     relationID,
					Version:     2,
					ChangesetID: changesetID,
					Visible:     true,
					Tags:        mapbase.Tags{"type": "site"},
					Members:     mapbase.TypedIDs{relationID},
					Roles:       mapbase.Roles{""},
				},
			}},
		})
		require.NoError(t, err)
	})
}

func TestUploadDiff_SizeCap(t *testing.T) {
	mapbasetest.Run(t, func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB) {
		user := mapbasetest.DefaultUser
		changesetID := mapbasetest.CreateChangeset(ctx, t, db, user)
		require.NoError(t, db.TestingSetChangesetSize(ctx, changesetID, mapbase.ChangesetMaxSize-1))

		// overshooting the cap rejects the whole diff
		_, err := db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        user,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
				mapbasetest.CreateNodeAction(changesetID, -2, mapbase.Point{Lon: 2, Lat: 2}),
			},
		})
		require.True(t, mapbase.ErrChangesetTooBig.Has(err))

		changeset, err := db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID})
		require.NoError(t, err)
		require.True(t, changeset.IsOpen())
		require.EqualValues(t, mapbase.ChangesetMaxSize-1, changeset.Size)

		// the filling upload lands and closes the changeset
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        user,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 1, Lat: 1}),
			},
		})
		require.NoError(t, err)

		changeset, err = db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: changesetID})
		require.NoError(t, err)
		require.False(t, changeset.IsOpen())
		require.NotNil(t, changeset.ClosedAt)
		require.EqualValues(t, mapbase.ChangesetMaxSize, changeset.Size)

		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        user,
			ChangesetID: changesetID,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(changesetID, -1, mapbase.Point{Lon: 3, Lat: 3}),
			},
		})
		require.True(t, mapbase.ErrChangesetClosed.Has(err))

		// moderators edit under the raised cap
		moderated := mapbasetest.CreateChangeset(ctx, t, db, mapbasetest.Moderator)
		require.NoError(t, db.TestingSetChangesetSize(ctx, moderated, mapbase.ChangesetMaxSize))
		_, err = db.UploadDiff(ctx, mapbase.UploadDiff{
			User:        mapbasetest.Moderator,
			ChangesetID: moderated,
			Actions: []mapbase.DiffAction{
				mapbasetest.CreateNodeAction(moderated, -1, mapbase.Point{Lon: 4, Lat: 4}),
			},
		})
		require.NoError(t, err)

		changeset, err = db.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: moderated})
		require.NoError(t, err)
		require.True(t, changeset.IsOpen())
	})
}
