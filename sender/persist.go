package sender

import (
	"bufio"
	"bytes"
	"io"

	"psi"
	"psi/label"
	"psi/params"
	"psi/wire"

	"github.com/ugorji/go/codec"
)

const (
	dbMagic   = "PSIDB"
	dbVersion = 1
)

type entryFile struct {
	Offset uint32
	Item   []byte
	Label  []byte
}

type bundleFile struct {
	BundleIdx uint32
	Rows      [][]entryFile
}

type dbFile struct {
	Params  []byte
	Size    uint32
	Bundles []bundleFile
}

// Save writes db to w. The stream is self-contained apart from the OPRF key,
// which is never part of it.
func (db *DB) Save(w io.Writer) error {
	blob, err := db.ps.Save()
	if err != nil {
		return err
	}
	f := dbFile{Params: blob, Size: uint32(db.size)}
	for _, bb := range db.bundles {
		bf := bundleFile{BundleIdx: uint32(bb.idx), Rows: make([][]entryFile, len(bb.rows))}
		for r, row := range bb.rows {
			for _, e := range row {
				bf.Rows[r] = append(bf.Rows[r], entryFile{
					Offset: uint32(e.offset),
					Item:   append([]byte(nil), e.item[:]...),
					Label:  e.label,
				})
			}
		}
		f.Bundles = append(f.Bundles, bf)
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(dbMagic)
	bw.WriteByte(dbVersion)
	if err := codec.NewEncoder(bw, wire.Handle()).Encode(&f); err != nil {
		return psi.Wrap(psi.ErrProtocolFailure, err, "encode database")
	}
	if err := bw.Flush(); err != nil {
		return psi.Wrap(psi.ErrProtocolFailure, err, "write database")
	}
	return nil
}

// LoadDB reads a database written by Save and recomputes its caches.
func LoadDB(r io.Reader, threads int) (*DB, error) {
	header := make([]byte, len(dbMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, psi.Wrap(psi.ErrMalformedMessage, err, "read database header")
	}
	if !bytes.Equal(header[:len(dbMagic)], []byte(dbMagic)) {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "not a database stream")
	}
	if header[len(dbMagic)] != dbVersion {
		return nil, psi.Errorf(psi.ErrMalformedMessage, "unsupported database version %d", header[len(dbMagic)])
	}

	var f dbFile
	if err := codec.NewDecoder(bufio.NewReader(r), wire.Handle()).Decode(&f); err != nil {
		return nil, psi.Wrap(psi.ErrMalformedMessage, err, "decode database")
	}
	ps, err := params.Load(f.Params)
	if err != nil {
		return nil, err
	}

	db := &DB{ps: ps, size: int(f.Size)}
	encLen := label.EncryptedSize(ps.LabelByteCount())
	for _, bf := range f.Bundles {
		if int(bf.BundleIdx) >= ps.BundleIdxCount() {
			return nil, psi.Errorf(psi.ErrMalformedMessage, "bundle index %d out of range", bf.BundleIdx)
		}
		if len(bf.Rows) == 0 || len(bf.Rows) > ps.MaxItemsPerBin() {
			return nil, psi.Errorf(psi.ErrMalformedMessage, "bundle has %d rows", len(bf.Rows))
		}
		bb := &binBundle{idx: int(bf.BundleIdx), rows: make([][]entry, len(bf.Rows))}
		for r, row := range bf.Rows {
			used := make(map[uint32]bool, len(row))
			for _, ef := range row {
				switch {
				case int(ef.Offset) >= ps.BinsPerBundle() || used[ef.Offset]:
					return nil, psi.Errorf(psi.ErrMalformedMessage, "bad bin offset %d", ef.Offset)
				case len(ef.Item) != psi.ItemSize:
					return nil, psi.Errorf(psi.ErrMalformedMessage, "item of %d bytes", len(ef.Item))
				case ps.Labeled() && len(ef.Label) != encLen:
					return nil, psi.Errorf(psi.ErrMalformedMessage, "label of %d bytes, want %d", len(ef.Label), encLen)
				case !ps.Labeled() && len(ef.Label) != 0:
					return nil, psi.Errorf(psi.ErrMalformedMessage, "label in unlabeled database")
				}
				used[ef.Offset] = true
				e := entry{offset: int(ef.Offset), label: ef.Label}
				copy(e.item[:], ef.Item)
				bb.rows[r] = append(bb.rows[r], e)
			}
		}
		db.bundles = append(db.bundles, bb)
	}
	if err := db.prepare(threads); err != nil {
		return nil, err
	}
	return db, nil
}
