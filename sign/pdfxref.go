package sign

import (
	"fmt"
	"sort"
)

// writeObject appends an indirect object and records its xref entry. It
// returns the offset of the first byte of body in the output.
func (context *SignContext) writeObject(id uint32, generation int, body []byte) (int64, error) {
	offset := int64(context.OutputBuffer.Buff.Len())
	header := fmt.Sprintf("%d %d obj\n", id, generation)

	if _, err := context.OutputBuffer.Write([]byte(header)); err != nil {
		return 0, fmt.Errorf("failed to write object %d header: %w", id, err)
	}
	if _, err := context.OutputBuffer.Write(body); err != nil {
		return 0, fmt.Errorf("failed to write object %d: %w", id, err)
	}
	if _, err := context.OutputBuffer.Write([]byte("\nendobj\n")); err != nil {
		return 0, fmt.Errorf("failed to write object %d trailer: %w", id, err)
	}

	context.entries = append(context.entries, xrefEntry{ID: id, Generation: generation, Offset: offset})
	return offset + int64(len(header)), nil
}

// allocateIDs reserves object numbers for the new objects. The xref stream,
// when used, takes the number after them.
func (context *SignContext) allocateIDs() {
	next := context.nextID
	context.sigID = next
	context.fontID = next + 1
	context.appearanceID = next + 2
	context.fieldID = next + 3
	context.pageID = next + 4
}

// writeXref writes the cross-reference section in the form the previous
// section used.
func (context *SignContext) writeXref() error {
	context.NewXrefStart = int64(context.OutputBuffer.Buff.Len())

	if context.xrefStream {
		return context.writeXrefStream()
	}
	return context.writeXrefTable()
}

// subsections groups the recorded entries into runs of consecutive object
// numbers.
func (context *SignContext) subsections() [][]xrefEntry {
	entries := make([]xrefEntry, len(context.entries))
	copy(entries, context.entries)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	var groups [][]xrefEntry
	for i, entry := range entries {
		if i == 0 || entry.ID != entries[i-1].ID+1 {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], entry)
	}
	return groups
}
