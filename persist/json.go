package persist

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// jsonEnvelope is what actually lands on disk: the declared Metadata, a
// checksum of the marshaled Data so corruption is detected rather than
// silently unmarshaled, and the caller's object verbatim.
type jsonEnvelope struct {
	Header   string
	Version  string
	Checksum string
	Data     json.RawMessage
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// SaveJSON writes obj to filename via a SafeFile (temp-then-rename): the
// data goes to a temp file that replaces filename on commit. An existing
// file at filename is not read or checked first.
func SaveJSON(meta Metadata, obj interface{}, filename string) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	env := jsonEnvelope{
		Header:   meta.Header,
		Version:  meta.Version,
		Checksum: checksum(data),
		Data:     data,
	}
	encoded, err := json.MarshalIndent(env, "", "\t")
	if err != nil {
		return err
	}

	sf, err := NewSafeFile(filename)
	if err != nil {
		return err
	}
	defer sf.Close()
	if _, err := sf.Write(encoded); err != nil {
		return err
	}
	return sf.Commit()
}

// LoadJSON reads filename into obj, verifying the Metadata and checksum
// recorded alongside it. If the main file is missing, truncated or fails
// its checksum, LoadJSON falls back to any lingering `<filename>_temp*`
// file left by an interrupted SaveJSON, since that temp file is only ever
// renamed into place once it is known-good.
func LoadJSON(meta Metadata, obj interface{}, filename string) error {
	if strings.Contains(filename, tempSuffix) {
		return ErrBadFilenameSuffix
	}
	if err := loadJSONFile(meta, obj, filename); err == nil {
		return nil
	}
	matches, _ := tempCandidates(filename)
	var lastErr error = fmt.Errorf("persist: could not load %s", filename)
	for _, m := range matches {
		if err := loadJSONFile(meta, obj, m); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return lastErr
}

func loadJSONFile(meta Metadata, obj interface{}, filename string) error {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	if env.Header != meta.Header || env.Version != meta.Version {
		return fmt.Errorf("persist: metadata mismatch loading %s: want %v, got {%s %s}", filename, meta, env.Header, env.Version)
	}
	if checksum(env.Data) != env.Checksum {
		return fmt.Errorf("persist: checksum mismatch loading %s", filename)
	}
	return json.Unmarshal(env.Data, obj)
}

func tempCandidates(filename string) ([]string, error) {
	dir := "."
	base := filename
	if idx := strings.LastIndexAny(filename, "/\\"); idx >= 0 {
		dir = filename[:idx]
		base = filename[idx+1:]
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	prefix := base + tempSuffix
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			out = append(out, dir+string(os.PathSeparator)+e.Name())
		}
	}
	return out, nil
}
