package midb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeFolderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	st, err := f.MakeFolder(ctx, "/m/alice", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	names, st, err := f.EnumFolders(ctx, "/m/alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, []string{"INBOX"}, names)

	st, err = f.MakeFolder(ctx, "/m/alice", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, StatusResultError, st, "duplicate folder must fail")

	st, err = f.RenameFolder(ctx, "/m/alice", "INBOX", "Archive")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	names, _, err = f.EnumFolders(ctx, "/m/alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"Archive"}, names)

	st, err = f.RemoveFolder(ctx, "/m/alice", "Archive")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	names, _, err = f.EnumFolders(ctx, "/m/alice")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFakeSubscriptions(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "INBOX")))
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "Sent")))

	st, err := f.SubscribeFolder(ctx, "/m/alice", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	subs, st, err := f.EnumSubscriptions(ctx, "/m/alice")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)
	assert.Equal(t, []string{"INBOX"}, subs)

	_, err = f.UnsubscribeFolder(ctx, "/m/alice", "INBOX")
	require.NoError(t, err)
	subs, _, _ = f.EnumSubscriptions(ctx, "/m/alice")
	assert.Empty(t, subs)
}

func TestFakeInsertFetchExpunge(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "INBOX")))

	st, err := f.InsertMail(ctx, "/m/alice", "INBOX", "1.1.host", Flags{})
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	uid1, st, err := f.GetUID(ctx, "/m/alice", "INBOX", "1.1.host")
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, uint32(1), uid1)

	_, err = f.InsertMail(ctx, "/m/alice", "INBOX", "1.2.host", Flags{Seen: true})
	require.NoError(t, err)
	uid2, _, err := f.GetUID(ctx, "/m/alice", "INBOX", "1.2.host")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), uid2)

	summary, st, err := f.SummaryFolder(ctx, "/m/alice", "INBOX")
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Equal(t, 2, summary.Exists)
	assert.Equal(t, 1, summary.Unseen)
	assert.Equal(t, 2, summary.Recent)

	items, st, err := f.FetchSimpleUID(ctx, "/m/alice", "INBOX", "1:*")
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.Len(t, items, 2)

	st, err = f.RemoveMail(ctx, "/m/alice", "INBOX", []uint32{uid1})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	items, _, _ = f.FetchSimpleUID(ctx, "/m/alice", "INBOX", "1:*")
	assert.Len(t, items, 1)
	assert.Equal(t, uid2, items[0].UID)
}

func TestFakeCopyMail(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "INBOX")))
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "Archive")))

	_, err := f.InsertMail(ctx, "/m/alice", "INBOX", "1.1.host", Flags{})
	require.NoError(t, err)
	uid, _, err := f.GetUID(ctx, "/m/alice", "INBOX", "1.1.host")
	require.NoError(t, err)

	st, err := f.CopyMail(ctx, "/m/alice", "INBOX", uid, "Archive")
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)

	dstUID, st, err := f.GetUID(ctx, "/m/alice", "Archive", "1.1.host")
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.NotZero(t, dstUID)

	items, _, err := f.FetchSimpleUID(ctx, "/m/alice", "Archive", "1:*")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "1.1.host", items[0].Mid)
}

func TestFakeSetUnsetGetFlags(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "INBOX")))
	_, err := f.InsertMail(ctx, "/m/alice", "INBOX", "1.1.host", Flags{})
	require.NoError(t, err)
	uid, _, err := f.GetUID(ctx, "/m/alice", "INBOX", "1.1.host")
	require.NoError(t, err)

	st, err := f.SetFlags(ctx, "/m/alice", "INBOX", []uint32{uid}, Flags{Seen: true, Flagged: true, Keywords: []string{"$Important"}})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	flags, st, err := f.GetFlags(ctx, "/m/alice", "INBOX", uid)
	require.NoError(t, err)
	require.Equal(t, StatusOK, st)
	assert.True(t, flags.Seen)
	assert.True(t, flags.Flagged)
	assert.Contains(t, flags.Keywords, "$Important")

	st, err = f.UnsetFlags(ctx, "/m/alice", "INBOX", []uint32{uid}, Flags{Flagged: true})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, st)

	flags, _, _ = f.GetFlags(ctx, "/m/alice", "INBOX", uid)
	assert.False(t, flags.Flagged)
	assert.True(t, flags.Seen)
}

func TestFakeGetUIDUnknownMid(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	require.NoError(t, must(f.MakeFolder(ctx, "/m/alice", "INBOX")))
	_, st, err := f.GetUID(ctx, "/m/alice", "INBOX", "nope")
	require.NoError(t, err)
	assert.Equal(t, StatusResultError, st)
}

func must(st Status, err error) error {
	if err != nil {
		return err
	}
	return nil
}
