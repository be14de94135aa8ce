package relay

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Wire type tags, three ASCII bytes each.
const (
	typeChr = "chr"
	typeInt = "int"
	typeLon = "lon"
	typeStr = "str"
	typeBuf = "buf"
	typePtr = "ptr"
	typeTim = "tim"
	typeHtb = "htb"
	typeHda = "hda"
	typeInf = "inf"
	typeInl = "inl"
	typeArr = "arr"
)

// Decode parses one binary relay message into an Envelope. The frame is
// a 4-byte big-endian length (including itself), a 1-byte compression
// flag, then the body: the message id string followed by typed objects.
// Decode never panics on malformed input; it returns an error instead.
func Decode(data []byte) (*Envelope, error) {
	if len(data) < 5 {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	length := int(binary.BigEndian.Uint32(data[:4]))
	compressed := data[4] != 0
	body := data[5:]

	if compressed {
		r, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("opening zlib body: %w", err)
		}
		defer r.Close()

		body, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("inflating body: %w", err)
		}
	}

	d := &decoder{buf: body}

	id, err := d.readStr()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	env := &Envelope{
		ID:         id,
		Length:     length,
		Compressed: compressed,
	}

	for d.remaining() > 0 {
		typ, err := d.readType()
		if err != nil {
			return nil, fmt.Errorf("reading object type: %w", err)
		}

		obj, err := d.readObject(typ)
		if err != nil {
			return nil, fmt.Errorf("reading %s object: %w", typ, err)
		}

		env.Objects = append(env.Objects, obj)
	}

	return env, nil
}

// decoder is a cursor over one message body.
type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.pos
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, fmt.Errorf("need %d bytes, have %d", n, d.remaining())
	}

	b := d.buf[d.pos : d.pos+n]
	d.pos += n

	return b, nil
}

func (d *decoder) readType() (string, error) {
	b, err := d.take(3)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (d *decoder) readChr() (byte, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}

	return b[0], nil
}

func (d *decoder) readInt() (int, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}

	return int(int32(binary.BigEndian.Uint32(b))), nil
}

// readLon reads a length-prefixed ASCII signed integer.
func (d *decoder) readLon() (int64, error) {
	n, err := d.readChr()
	if err != nil {
		return 0, err
	}

	b, err := d.take(int(n))
	if err != nil {
		return 0, err
	}

	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing long %q: %w", b, err)
	}

	return v, nil
}

// readStr reads a 4-byte-length-prefixed string. A length of -1 means
// the null string, decoded as "".
func (d *decoder) readStr() (string, error) {
	n, err := d.readInt()
	if err != nil {
		return "", err
	}

	if n <= 0 {
		return "", nil
	}

	b, err := d.take(n)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

func (d *decoder) readBuf() ([]byte, error) {
	n, err := d.readInt()
	if err != nil {
		return nil, err
	}

	if n <= 0 {
		return nil, nil
	}

	b, err := d.take(n)
	if err != nil {
		return nil, err
	}

	out := make([]byte, n)
	copy(out, b)

	return out, nil
}

// readPtr reads a length-prefixed hex pointer. The null pointer is sent
// as the single character "0" and decoded as "".
func (d *decoder) readPtr() (string, error) {
	n, err := d.readChr()
	if err != nil {
		return "", err
	}

	b, err := d.take(int(n))
	if err != nil {
		return "", err
	}

	p := string(b)
	if p == "0" {
		return "", nil
	}

	return p, nil
}

func (d *decoder) readTim() (time.Time, error) {
	n, err := d.readChr()
	if err != nil {
		return time.Time{}, err
	}

	b, err := d.take(int(n))
	if err != nil {
		return time.Time{}, err
	}

	secs, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", b, err)
	}

	return time.Unix(secs, 0).UTC(), nil
}

func (d *decoder) readHtb() (map[string]any, error) {
	keyType, err := d.readType()
	if err != nil {
		return nil, err
	}

	valType, err := d.readType()
	if err != nil {
		return nil, err
	}

	count, err := d.readInt()
	if err != nil {
		return nil, err
	}

	table := make(map[string]any, count)

	for i := 0; i < count; i++ {
		k, err := d.readValue(keyType)
		if err != nil {
			return nil, err
		}

		v, err := d.readValue(valType)
		if err != nil {
			return nil, err
		}

		table[fmt.Sprintf("%v", k)] = v
	}

	return table, nil
}

func (d *decoder) readArr() ([]any, error) {
	typ, err := d.readType()
	if err != nil {
		return nil, err
	}

	count, err := d.readInt()
	if err != nil {
		return nil, err
	}

	items := make([]any, 0, count)

	for i := 0; i < count; i++ {
		v, err := d.readValue(typ)
		if err != nil {
			return nil, err
		}

		items = append(items, v)
	}

	return items, nil
}

func (d *decoder) readHda() (*Hda, error) {
	hpath, err := d.readStr()
	if err != nil {
		return nil, err
	}

	keysSpec, err := d.readStr()
	if err != nil {
		return nil, err
	}

	count, err := d.readInt()
	if err != nil {
		return nil, err
	}

	hda := &Hda{HPath: hpath}

	if keysSpec != "" {
		for _, pair := range strings.Split(keysSpec, ",") {
			name, typ, ok := strings.Cut(pair, ":")
			if !ok {
				return nil, fmt.Errorf("malformed hdata key %q", pair)
			}

			hda.Keys = append(hda.Keys, HdaKey{Name: name, Type: typ})
		}
	}

	pathLen := strings.Count(hpath, "/") + 1
	if hpath == "" {
		pathLen = 0
	}

	for i := 0; i < count; i++ {
		item := HdaItem{Values: make(map[string]any, len(hda.Keys))}

		for p := 0; p < pathLen; p++ {
			ptr, err := d.readPtr()
			if err != nil {
				return nil, err
			}

			item.Pointers = append(item.Pointers, ptr)
		}

		for _, key := range hda.Keys {
			v, err := d.readValue(key.Type)
			if err != nil {
				return nil, fmt.Errorf("key %s: %w", key.Name, err)
			}

			item.Values[key.Name] = v
		}

		hda.Items = append(hda.Items, item)
	}

	return hda, nil
}

func (d *decoder) readInf() (*Inf, error) {
	name, err := d.readStr()
	if err != nil {
		return nil, err
	}

	value, err := d.readStr()
	if err != nil {
		return nil, err
	}

	return &Inf{Name: name, Value: value}, nil
}

// readInl reads an infolist: a named list of items, each a list of
// typed named variables.
func (d *decoder) readInl() ([]map[string]any, error) {
	if _, err := d.readStr(); err != nil {
		return nil, err
	}

	count, err := d.readInt()
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, count)

	for i := 0; i < count; i++ {
		varCount, err := d.readInt()
		if err != nil {
			return nil, err
		}

		item := make(map[string]any, varCount)

		for j := 0; j < varCount; j++ {
			name, err := d.readStr()
			if err != nil {
				return nil, err
			}

			typ, err := d.readType()
			if err != nil {
				return nil, err
			}

			v, err := d.readValue(typ)
			if err != nil {
				return nil, err
			}

			item[name] = v
		}

		items = append(items, item)
	}

	return items, nil
}

func (d *decoder) readValue(typ string) (any, error) {
	switch typ {
	case typeChr:
		return d.readChr()
	case typeInt:
		return d.readInt()
	case typeLon:
		return d.readLon()
	case typeStr:
		return d.readStr()
	case typeBuf:
		return d.readBuf()
	case typePtr:
		return d.readPtr()
	case typeTim:
		return d.readTim()
	case typeHtb:
		return d.readHtb()
	case typeArr:
		return d.readArr()
	default:
		return nil, fmt.Errorf("unsupported value type %q", typ)
	}
}

func (d *decoder) readObject(typ string) (Object, error) {
	obj := Object{Type: typ}

	switch typ {
	case typeHda:
		hda, err := d.readHda()
		if err != nil {
			return obj, err
		}

		obj.Hda = hda

	case typeInf:
		inf, err := d.readInf()
		if err != nil {
			return obj, err
		}

		obj.Inf = inf

	case typeInl:
		items, err := d.readInl()
		if err != nil {
			return obj, err
		}

		obj.Value = items

	default:
		v, err := d.readValue(typ)
		if err != nil {
			return obj, err
		}

		obj.Value = v
	}

	return obj, nil
}
