// Package gitcore provides pure Go implementation of Git object parsing, persistence, and repository traversal.
package gitcore

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"crypto/sha1" //nolint:gosec // G401/G505: SHA-1 is Git's object identity function, not used for security
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	objectTypeCommit = "commit"
	objectTypeTree   = "tree"
	objectTypeBlob   = "blob"
	objectTypeTag    = "tag"
)

// EmptyTreeHash is the well-known oid of the empty tree, used as the target
// tree when checking out an unborn branch (one with no commit yet).
const EmptyTreeHash Hash = "4b825dc642cb6eb9a060e54bf8d69288fbee4904"

// loadObjects loads all Git objects into the object store.
// It traverses all references and their histories.
// It assumes that all references have already been loaded.
func (r *Repository) loadObjects() error {
	visited := make(map[Hash]bool)
	r.commitMap = make(map[Hash]*Commit)
	for _, ref := range r.refs {
		r.traverseObjects(ref, visited)
	}
	return nil
}

// traverseObjects recursively loads all objects beginning from the provided reference,
// using the visited map to avoid processing the same object multiple times.
func (r *Repository) traverseObjects(ref Hash, visited map[Hash]bool) {
	if visited[ref] {
		return
	}
	visited[ref] = true

	object, err := r.readObject(ref)
	if err != nil {
		// Log the error but continue with other potentially valid objects.
		log.Printf("error traversing object: %v", err)
		return
	}

	switch object.Type() {
	case CommitObject:
		commit := object.(*Commit) //nolint:errcheck // switch on Type() guarantees the concrete type
		r.commits = append(r.commits, commit)
		r.commitMap[commit.ID] = commit
		for _, parent := range commit.Parents {
			r.traverseObjects(parent, visited)
		}
	case TagObject:
		tag := object.(*Tag) //nolint:errcheck // switch on Type() guarantees the concrete type
		r.tags = append(r.tags, tag)
		r.traverseObjects(tag.Object, visited)
	default:
		// Unrecognized type, log the error but continue on.
		log.Printf("unsupported object type: %d", object.Type())
	}
}

// readObject parses an object from its hash. Loose storage only: pack files
// are out of scope for this engine.
func (r *Repository) readObject(id Hash) (Object, error) {
	header, content, err := r.readLooseObjectRaw(id)
	if err != nil {
		return nil, &Error{Kind: NotFound, Op: "readObject", Err: fmt.Errorf("object not found: %s", id)}
	}

	switch {
	case strings.HasPrefix(header, objectTypeCommit):
		return parseCommitBody(content, id)
	case strings.HasPrefix(header, objectTypeTag):
		return parseTagBody(content, id)
	case strings.HasPrefix(header, objectTypeTree):
		return parseTreeBody(content, id)
	default:
		return nil, &Error{Kind: InvalidFormat, Op: "readObject", Err: fmt.Errorf("unrecognized loose object type: %q for %s", header, id)}
	}
}

// readObjectData reads any object and returns its raw body plus a type name.
func (r *Repository) readObjectData(id Hash) ([]byte, string, error) {
	header, content, err := r.readLooseObjectRaw(id)
	if err != nil {
		return nil, "", &Error{Kind: NotFound, Op: "readObjectData", Err: fmt.Errorf("object not found: %s", id)}
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return nil, "", &Error{Kind: InvalidFormat, Op: "readObjectData", Err: fmt.Errorf("invalid header: %s", header)}
	}
	return content, parts[0], nil
}

// readLooseObjectRaw reads a loose object from disk and returns its header and content.
func (r *Repository) readLooseObjectRaw(id Hash) (header string, content []byte, err error) {
	objectPath := looseObjectPath(r.gitDir, id)

	//nolint:gosec // G304: Object paths are controlled by git repository structure
	file, err := os.Open(objectPath)
	if err != nil {
		return "", nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Printf("failed to close loose object file: %v", err)
		}
	}()

	data, err := readCompressedData(file)
	if err != nil {
		return "", nil, fmt.Errorf("invalid compressed data: %w", err)
	}

	nullIdx := bytes.IndexByte(data, 0)
	if nullIdx == -1 {
		return "", nil, fmt.Errorf("invalid object format")
	}

	header, content = string(data[:nullIdx]), data[nullIdx+1:]
	return header, content, nil
}

// looseObjectPath returns the on-disk path for a loose object under gitDir.
func looseObjectPath(gitDir string, id Hash) string {
	return filepath.Join(gitDir, "objects", string(id)[:2], string(id)[2:])
}

// hashObject computes the oid of the framed form "<type> <len>\0<content>"
// without writing anything to disk.
func hashObject(objType string, content []byte) (Hash, []byte) {
	framed := framObject(objType, content)
	sum := sha1.Sum(framed) //nolint:gosec // G401: Git object identity, not a security digest
	hexHash, _ := NewHashFromBytes(sum)
	return hexHash, framed
}

// framObject builds the "<type> <len>\0<content>" byte string hashed and
// compressed for every loose object.
func framObject(objType string, content []byte) []byte {
	header := fmt.Sprintf("%s %d\x00", objType, len(content))
	buf := make([]byte, 0, len(header)+len(content))
	buf = append(buf, header...)
	buf = append(buf, content...)
	return buf
}

// HashObject computes the oid for content of the given type without
// persisting it, mirroring `git hash-object` without `-w`.
func HashObject(objType string, content []byte) Hash {
	hash, _ := hashObject(objType, content)
	return hash
}

// writeLooseObject stores content under its content-addressed path if the
// object does not already exist. put is idempotent: identical content always
// yields the same oid and at most one on-disk file.
func (r *Repository) writeLooseObject(objType string, content []byte) (Hash, error) {
	hash, framed := hashObject(objType, content)
	path := looseObjectPath(r.gitDir, hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil // already present; write-once semantics
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(framed); err != nil {
		_ = zw.Close()
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}
	if err := zw.Close(); err != nil {
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-obj-*")
	if err != nil {
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", &Error{Kind: IOError, Op: "writeLooseObject", Err: err}
	}

	return hash, nil
}

// WriteBlob persists raw file content as a blob object and returns its oid.
func (r *Repository) WriteBlob(content []byte) (Hash, error) {
	return r.writeLooseObject(objectTypeBlob, content)
}

// WriteTree serializes entries (already sorted per Git's tree ordering) and
// persists the result as a tree object.
func (r *Repository) WriteTree(entries []TreeEntry) (Hash, error) {
	var buf bytes.Buffer
	for _, e := range entries {
		mode := strings.TrimPrefix(e.Mode, "0")
		if _, err := fmt.Fprintf(&buf, "%s %s\x00", mode, e.Name); err != nil {
			return "", err
		}
		raw, err := hashBytesOf(e.ID)
		if err != nil {
			return "", &Error{Kind: InvalidFormat, Op: "WriteTree", Err: err}
		}
		buf.Write(raw)
	}
	return r.writeLooseObject(objectTypeTree, buf.Bytes())
}

// WriteCommit serializes a commit header plus message and persists it.
func (r *Repository) WriteCommit(tree Hash, parents []Hash, author, committer Signature, message string) (Hash, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", tree)
	for _, p := range parents {
		fmt.Fprintf(&buf, "parent %s\n", p)
	}
	fmt.Fprintf(&buf, "author %s\n", formatSignature(author))
	fmt.Fprintf(&buf, "committer %s\n", formatSignature(committer))
	buf.WriteByte('\n')
	buf.WriteString(message)
	return r.writeLooseObject(objectTypeCommit, buf.Bytes())
}

// formatSignature renders a Signature as "Name <email> <unix-ts> <±HHMM>".
func formatSignature(s Signature) string {
	_, offset := s.When.Zone()
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hh := offset / 3600
	mm := (offset % 3600) / 60
	return fmt.Sprintf("%s <%s> %d %s%02d%02d", s.Name, s.Email, s.When.Unix(), sign, hh, mm)
}

// hashBytesOf decodes a Hash's hex form back to its raw 20 bytes.
func hashBytesOf(h Hash) ([]byte, error) {
	decoded, err := hex.DecodeString(string(h))
	if err != nil {
		return nil, fmt.Errorf("invalid hash %q: %w", h, err)
	}
	if len(decoded) != 20 {
		return nil, fmt.Errorf("invalid hash length for %q", h)
	}
	return decoded, nil
}

// parseCommitBody parses the body of a commit object into a Commit struct.
func parseCommitBody(body []byte, id Hash) (*Commit, error) {
	commit := &Commit{ID: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	inMessage := false
	var messageLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if inMessage {
			messageLines = append(messageLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}

		if strings.HasPrefix(line, "parent ") {
			parent, err := NewHash(strings.TrimPrefix(line, "parent "))
			if err != nil {
				return nil, fmt.Errorf("invalid parent hash: %w", err)
			}
			commit.Parents = append(commit.Parents, parent)
		} else if strings.HasPrefix(line, "tree ") {
			tree, err := NewHash(strings.TrimPrefix(line, "tree "))
			if err != nil {
				return nil, fmt.Errorf("invalid tree hash: %w", err)
			}
			commit.Tree = tree
		} else if strings.HasPrefix(line, "author ") {
			authorLine := strings.TrimPrefix(line, "author ")
			author, err := NewSignature(authorLine)
			if err != nil {
				return nil, fmt.Errorf("invalid author signature: %w", err)
			}
			commit.Author = author
		} else if strings.HasPrefix(line, "committer ") {
			committerLine := strings.TrimPrefix(line, "committer ")
			committer, err := NewSignature(committerLine)
			if err != nil {
				return nil, fmt.Errorf("invalid committer signature: %w", err)
			}
			commit.Committer = committer
		}
	}

	commit.Message = strings.Join(messageLines, "\n")
	commit.Message = strings.TrimSpace(commit.Message)

	return commit, nil
}

// parseTagBody parses the body of a tag object into a Tag struct.
func parseTagBody(body []byte, id Hash) (*Tag, error) {
	tag := &Tag{ID: id}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	inMessage := false
	var messageLines []string

	for scanner.Scan() {
		line := scanner.Text()

		if inMessage {
			messageLines = append(messageLines, line)
			continue
		}
		if line == "" {
			inMessage = true
			continue
		}

		if strings.HasPrefix(line, "object ") {
			objectHash, err := NewHash(strings.TrimPrefix(line, "object "))
			if err != nil {
				return nil, fmt.Errorf("invalid object hash: %w", err)
			}
			tag.Object = objectHash
		} else if strings.HasPrefix(line, "type ") {
			typeStr := strings.TrimPrefix(line, "type ")
			tag.ObjType = StrToObjectType(typeStr)
		} else if strings.HasPrefix(line, "tag ") {
			tag.Name = strings.TrimPrefix(line, "tag ")
		} else if strings.HasPrefix(line, "tagger ") {
			taggerLine := strings.TrimPrefix(line, "tagger ")
			tagger, err := NewSignature(taggerLine)
			if err != nil {
				return nil, fmt.Errorf("invalid tagger: %w", err)
			}
			tag.Tagger = tagger
		}
	}

	tag.Message = strings.Join(messageLines, "\n")
	tag.Message = strings.TrimSpace(tag.Message)

	return tag, nil
}

// parseTreeBody parses the body of a tree object into a Tree struct.
func parseTreeBody(body []byte, id Hash) (*Tree, error) {
	tree := &Tree{
		ID:      id,
		Entries: make([]TreeEntry, 0),
	}
	reader := bytes.NewReader(body)

	for {
		var modeBuilder strings.Builder
		for {
			b, err := reader.ReadByte()
			if err == io.EOF {
				return tree, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read mode: %w", err)
			}
			if b == ' ' {
				break
			}
			modeBuilder.WriteByte(b)
		}
		mode := modeBuilder.String()

		var nameBuilder strings.Builder
		for {
			b, err := reader.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("failed to read name: %w", err)
			}
			if b == 0 {
				break
			}
			nameBuilder.WriteByte(b)
		}
		name := nameBuilder.String()

		var hashBytes [20]byte
		if _, err := io.ReadFull(reader, hashBytes[:]); err != nil {
			return nil, fmt.Errorf("failed to read hash: %w", err)
		}

		hash, err := NewHashFromBytes(hashBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid hash in tree entry: %w", err)
		}

		// Determine type based on mode:
		//  - 100644/100755 = blob (file)
		//  - 120000       = blob (symlink; content is the link target)
		//  - 040000       = tree (directory)
		//  - 160000       = commit (submodule gitlink)
		var entryType string
		switch {
		case strings.HasPrefix(mode, "100"), mode == "120000":
			entryType = "blob"
		case mode == "040000" || mode == "40000":
			entryType = "tree"
		case mode == "160000":
			entryType = "commit"
		default:
			entryType = "unknown"
		}

		tree.Entries = append(tree.Entries, TreeEntry{
			ID:   hash,
			Name: name,
			Mode: mode,
			Type: entryType,
		})
	}
}

// maxDecompressedSize caps the size of any single decompressed Git object.
// Objects larger than this are rejected to prevent zip-bomb style attacks.
const maxDecompressedSize = 256 * 1024 * 1024 // 256MB

// readCompressedData reads and decompresses zlib-compressed data from the given reader.
// Returns an error if the decompressed output exceeds maxDecompressedSize.
func readCompressedData(r io.Reader) ([]byte, error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib reader: %w", err)
	}
	defer func() {
		if err := zr.Close(); err != nil {
			log.Printf("failed to close zlib reader: %v", err)
		}
	}()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(zr, maxDecompressedSize+1)); err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if buf.Len() > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed object exceeds maximum allowed size (%d bytes)", maxDecompressedSize)
	}

	return buf.Bytes(), nil
}
