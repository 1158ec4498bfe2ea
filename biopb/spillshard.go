package biopb

// Messages stored in the trailer of the temporary spill shards produced by the
// VCF sorter. They are plain proto3 messages, serialized with
// github.com/gogo/protobuf/proto.Marshal.

import (
	"github.com/gogo/protobuf/proto"
)

// SpillShardBlockIndex describes one recordio block of a spill shard.
type SpillShardBlockIndex struct {
	// StartKey is the sort key of the first record in the block.
	StartKey uint64 `protobuf:"varint,1,opt,name=start_key,json=startKey,proto3" json:"start_key,omitempty"`
	// FileOffset is the recordio block offset.
	FileOffset uint64 `protobuf:"varint,2,opt,name=file_offset,json=fileOffset,proto3" json:"file_offset,omitempty"`
	// NumRecords is the number of records in the block.
	NumRecords uint32 `protobuf:"varint,3,opt,name=num_records,json=numRecords,proto3" json:"num_records,omitempty"`
}

func (m *SpillShardBlockIndex) Reset()         { *m = SpillShardBlockIndex{} }
func (m *SpillShardBlockIndex) String() string { return proto.CompactTextString(m) }
func (*SpillShardBlockIndex) ProtoMessage()    {}

// SpillShardIndex is stored in the recordio trailer of a spill shard.
type SpillShardIndex struct {
	// Snappy is true if the data blocks are snappy-compressed.
	Snappy bool `protobuf:"varint,1,opt,name=snappy,proto3" json:"snappy,omitempty"`
	// NumRecords is the total number of records in the shard.
	NumRecords uint64 `protobuf:"varint,2,opt,name=num_records,json=numRecords,proto3" json:"num_records,omitempty"`
	// RunSeq is the sequence number of the run, assigned when the run was
	// sealed. Runs with smaller RunSeq were sealed earlier.
	RunSeq uint32 `protobuf:"varint,3,opt,name=run_seq,json=runSeq,proto3" json:"run_seq,omitempty"`
	// Blocks lists the data blocks, in file order.
	Blocks []*SpillShardBlockIndex `protobuf:"bytes,4,rep,name=blocks,proto3" json:"blocks,omitempty"`
}

func (m *SpillShardIndex) Reset()         { *m = SpillShardIndex{} }
func (m *SpillShardIndex) String() string { return proto.CompactTextString(m) }
func (*SpillShardIndex) ProtoMessage()    {}
