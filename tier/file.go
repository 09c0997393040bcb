package tier

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"

	"github.com/arloliu/rshuffle/types"
)

const blockSuffix = ".blk"

// FileBackend stores blocks as files under a grailfile prefix, so any URL
// scheme registered with github.com/grailbio/base/file works (local paths by
// default, s3:// once an S3 implementation is registered).
//
// A block is stored at
//
//	{prefix}/{app}/{shuffle}/{startPartition}/p{partition}/{shuffle}_{partition}_{taskAttempt}_{sequence}.blk
//
// The file name carries the whole BlockID, so a block is only found under
// the key it was written with.
type FileBackend struct {
	id     types.StorageID
	prefix string
}

var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a file tier rooted at prefix.
//
// Example:
//
//	local := tier.NewFileBackend(tier.StorageLocal, "/var/lib/rshuffle")
//	remote := tier.NewFileBackend(tier.StorageRemote, "s3://bucket/rshuffle")
func NewFileBackend(id types.StorageID, prefix string) *FileBackend {
	return &FileBackend{id: id, prefix: prefix}
}

// ID implements Backend.
func (f *FileBackend) ID() types.StorageID { return f.id }

// Prefix returns the root of the backend.
func (f *FileBackend) Prefix() string { return f.prefix }

func (f *FileBackend) dir(seg Segment, partition int32) string {
	return file.Join(f.prefix, seg.AppID,
		strconv.FormatInt(int64(seg.ShuffleID), 10),
		strconv.FormatInt(int64(seg.StartPartition), 10),
		fmt.Sprintf("p%d", partition))
}

func (f *FileBackend) path(seg Segment, partition int32, block types.BlockID) string {
	return file.Join(f.dir(seg, partition), blockName(block))
}

// Put implements Backend. The file becomes visible when it is closed.
func (f *FileBackend) Put(ctx context.Context, seg Segment, partition int32, block types.BlockID, data []byte) error {
	out, err := file.Create(ctx, f.path(seg, partition, block))
	if err != nil {
		return err
	}
	if _, err := out.Writer(ctx).Write(data); err != nil {
		_ = out.Close(ctx)
		return err
	}

	return out.Close(ctx)
}

// Open implements Backend.
func (f *FileBackend) Open(ctx context.Context, seg Segment, partition int32, block types.BlockID) (io.ReadCloser, error) {
	in, err := file.Open(ctx, f.path(seg, partition, block))
	if errors.Is(errors.NotExist, err) {
		return nil, blockNotFound(seg, partition, block)
	}
	if err != nil {
		return nil, err
	}

	return &fileReadCloser{Reader: in.Reader(ctx), ctx: ctx, file: in}, nil
}

// List implements Backend.
func (f *FileBackend) List(ctx context.Context, seg Segment, partition int32) ([]types.BlockID, error) {
	var out []types.BlockID

	// The trailing slash keeps object stores from matching sibling prefixes
	// such as p30 when listing p3.
	lst := file.List(ctx, f.dir(seg, partition)+"/", false)
	for lst.Scan() {
		id, ok := parseBlockName(path.Base(lst.Path()))
		if !ok {
			continue
		}
		out = append(out, id)
	}
	if err := lst.Err(); err != nil && !errors.Is(errors.NotExist, err) && !os.IsNotExist(err) {
		return nil, err
	}
	slices.SortFunc(out, compareBlocks)

	return out, nil
}

func blockName(block types.BlockID) string {
	return fmt.Sprintf("%d_%d_%d_%d%s",
		block.Key.ShuffleID, block.Key.PartitionID, block.TaskAttemptID, block.Sequence, blockSuffix)
}

func parseBlockName(name string) (types.BlockID, bool) {
	base, ok := strings.CutSuffix(name, blockSuffix)
	if !ok {
		return types.BlockID{}, false
	}
	fields := strings.Split(base, "_")
	if len(fields) != 4 {
		return types.BlockID{}, false
	}

	var nums [4]int64
	for i, bits := range []int{32, 32, 64, 32} {
		n, err := strconv.ParseInt(fields[i], 10, bits)
		if err != nil {
			return types.BlockID{}, false
		}
		nums[i] = n
	}

	return types.BlockID{
		Key:           types.PartitionKey{ShuffleID: int32(nums[0]), PartitionID: int32(nums[1])},
		TaskAttemptID: nums[2],
		Sequence:      int32(nums[3]),
	}, true
}

type fileReadCloser struct {
	io.Reader
	ctx  context.Context
	file file.File
}

func (r *fileReadCloser) Close() error {
	return r.file.Close(r.ctx)
}
