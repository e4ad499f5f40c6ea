package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeSetCollapsesRevertedEdits(t *testing.T) {
	t.Parallel()

	rig := Item{ID: "i1", Name: "hero_rig"}
	cs := NewChangeSet()
	cs.Record(rig, "isToggled", true, false)
	require.Equal(t, 1, cs.Len())

	cs.Record(rig, "isToggled", false, true)
	assert.Equal(t, 0, cs.Len())
	_, ok := cs.Get("hero_rig", "isToggled")
	assert.False(t, ok)
}

func TestChangeSetKeepsFirstOldValue(t *testing.T) {
	t.Parallel()

	rig := Item{ID: "i1", Name: "hero_rig"}
	cs := NewChangeSet()
	cs.Record(rig, "label", "a", "b")
	cs.Record(rig, "label", "b", "c")

	ch, ok := cs.Get("hero_rig", "label")
	require.True(t, ok)
	assert.Equal(t, "a", ch.Old)
	assert.Equal(t, "c", ch.New)
	assert.Equal(t, "i1", ch.ItemID)
}

func TestChangeSetKeyedByName(t *testing.T) {
	t.Parallel()

	cs := NewChangeSet()
	cs.Record(Item{ID: "i1", Name: "hero_rig"}, "isToggled", true, false)

	_, ok := cs.Get("i1", "isToggled")
	assert.False(t, ok, "ids are not keys")
	ch, ok := cs.Get("hero_rig", "isToggled")
	require.True(t, ok)
	assert.Equal(t, "hero_rig", ch.Item)
}

func TestChangeSetSnapshotOrder(t *testing.T) {
	t.Parallel()

	a := Item{ID: "2", Name: "a"}
	b := Item{ID: "1", Name: "b"}
	cs := NewChangeSet()
	cs.Record(b, "isToggled", true, false)
	cs.Record(a, "label", "x", "y")
	cs.Record(a, "isToggled", false, true)

	snap := cs.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a/isToggled", "a/label", "b/isToggled"}, []string{
		snap[0].Item + "/" + snap[0].Field,
		snap[1].Item + "/" + snap[1].Field,
		snap[2].Item + "/" + snap[2].Field,
	})

	cs.Clear()
	assert.Zero(t, cs.Len())
}
