package keys

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/falk/nca-go/pkg/aescrypto"
)

// FileKeySet is the reference Manager implementation: a "prod.keys"-style
// flat file of named hex values, plus the same derivation chain the
// teacher's pkg/keys/derivation.go performs (kek -> titlekek / key-area-key
// per master key generation). Unlike the teacher's package-level map, a
// FileKeySet is a value callers construct and inject into nca.NewReader;
// there is no process-wide global (spec §9).
type FileKeySet struct {
	mu   sync.RWMutex
	raw  map[string][]byte
	keks struct {
		titlekek   [MasterKeyCount]*aescrypto.Key128
		keyArea    [MasterKeyCount][3]*aescrypto.Key128
	}
	titlekeys map[[16]byte]aescrypto.Key128
}

// NewFileKeySet returns an empty key set; call Load or LoadDefault to
// populate it, then DeriveKeys before using it as a Manager.
func NewFileKeySet() *FileKeySet {
	return &FileKeySet{
		raw:       make(map[string][]byte),
		titlekeys: make(map[[16]byte]aescrypto.Key128),
	}
}

// Load reads "name = HEXVALUE" lines from path, same format as the
// teacher's pkg/keys.Load.
func (k *FileKeySet) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	k.mu.Lock()
	defer k.mu.Unlock()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimSpace(parts[0])
		val, err := hex.DecodeString(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		k.raw[name] = val
	}
	return scanner.Err()
}

// LoadDefault tries the same standard locations the teacher's
// pkg/keys.LoadDefault does.
func (k *FileKeySet) LoadDefault() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	paths := []string{
		"prod.keys",
		"keys.txt",
		filepath.Join(home, ".switch", "prod.keys"),
		filepath.Join(home, ".switch", "keys.txt"),
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return k.Load(p)
		}
	}
	return fmt.Errorf("keys: no keys file found")
}

// SetTitlekey installs an externally-sourced titlekey for rightsID (e.g.
// decrypted from an NSP's ticket), matching spec §4.12 step 7's
// "SetExternalDecryptionKey" collaborator call.
func (k *FileKeySet) SetTitlekey(rightsID [16]byte, key aescrypto.Key128) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.titlekeys[rightsID] = key
}

// DecryptTitleKey unwraps an encrypted title key from a ticket with the
// titlekek for the given master key generation, matching the teacher's
// derivation.DecryptTitleKey.
func (k *FileKeySet) DecryptTitleKey(encrypted []byte, masterKeyGen int) (aescrypto.Key128, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if masterKeyGen < 0 || masterKeyGen >= MasterKeyCount || k.keks.titlekek[masterKeyGen] == nil {
		return aescrypto.Key128{}, fmt.Errorf("keys: titlekek for generation %d not derived", masterKeyGen)
	}
	plain, err := aescrypto.ECBDecrypt(encrypted, k.keks.titlekek[masterKeyGen][:])
	if err != nil {
		return aescrypto.Key128{}, err
	}
	var key aescrypto.Key128
	copy(key[:], plain)
	return key, nil
}

func rightsIDKey(f1, f2 uint64) [16]byte {
	var id [16]byte
	for i := 0; i < 8; i++ {
		id[i] = byte(f1 >> (8 * (7 - i)))
		id[8+i] = byte(f2 >> (8 * (7 - i)))
	}
	return id
}

// DeriveKeys computes the Key Area Keys and Title Keks for every master key
// generation present in the loaded set, exactly as the teacher's
// DeriveKeys does: Kek = ECBDecrypt(kek_seed, master_key); KeyAreaKey =
// ECBDecrypt(key_seed, ECBDecrypt(area_source, Kek)); Titlekek =
// ECBDecrypt(titlekek_source, master_key).
func (k *FileKeySet) DeriveKeys() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	aesKekGen := k.raw["aes_kek_generation_source"]
	aesKeyGen := k.raw["aes_key_generation_source"]
	titleKekSource := k.raw["titlekek_source"]
	if aesKekGen == nil || aesKeyGen == nil {
		return fmt.Errorf("keys: missing generation sources, cannot derive keys")
	}

	areaSources := [3][]byte{
		k.raw["key_area_key_application_source"],
		k.raw["key_area_key_ocean_source"],
		k.raw["key_area_key_system_source"],
	}

	for i := 0; i < MasterKeyCount; i++ {
		masterKey := k.raw[fmt.Sprintf("master_key_%02x", i)]
		if masterKey == nil {
			continue
		}

		if titleKekSource != nil {
			if tk, err := aescrypto.ECBDecrypt(titleKekSource, masterKey); err == nil && len(tk) == 16 {
				var key aescrypto.Key128
				copy(key[:], tk)
				k.keks.titlekek[i] = &key
			}
		}

		for t := 0; t < 3; t++ {
			src := areaSources[t]
			if src == nil {
				continue
			}
			kak, err := generateKek(src, masterKey, aesKekGen, aesKeyGen)
			if err != nil {
				continue
			}
			var key aescrypto.Key128
			copy(key[:], kak)
			k.keks.keyArea[i][t] = &key
		}
	}
	return nil
}

// generateKek reproduces the teacher's GenerateKek: decrypt kekSeed with
// masterKey to get a Kek, decrypt src with that Kek, then (if keySeed is
// non-nil) decrypt keySeed with the result.
func generateKek(src, masterKey, kekSeed, keySeed []byte) ([]byte, error) {
	kek, err := aescrypto.ECBDecrypt(kekSeed, masterKey)
	if err != nil {
		return nil, err
	}
	srcKek, err := aescrypto.ECBDecrypt(src, kek)
	if err != nil {
		return nil, err
	}
	if keySeed != nil {
		return aescrypto.ECBDecrypt(keySeed, srcKek)
	}
	return srcKek, nil
}

// HasKey implements Manager.
func (k *FileKeySet) HasKey(kind Kind, f1, f2 uint64) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()

	switch kind {
	case KindHeader:
		return k.raw["header_key"] != nil
	case KindTitlekek:
		return int(f1) < MasterKeyCount && k.keks.titlekek[f1] != nil
	case KindKeyArea:
		if int(f1) >= MasterKeyCount {
			return false
		}
		return k.keks.keyArea[f1][f2] != nil
	case KindTitlekey:
		_, ok := k.titlekeys[rightsIDKey(f1, f2)]
		return ok
	}
	return false
}

// GetKey128 implements Manager.
func (k *FileKeySet) GetKey128(kind Kind, f1, f2 uint64) (aescrypto.Key128, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	switch kind {
	case KindKeyArea:
		if int(f1) >= MasterKeyCount || k.keks.keyArea[f1][f2] == nil {
			return aescrypto.Key128{}, fmt.Errorf("keys: missing key area key (gen=%d, area=%d)", f1, f2)
		}
		return *k.keks.keyArea[f1][f2], nil
	case KindTitlekek:
		if int(f1) >= MasterKeyCount || k.keks.titlekek[f1] == nil {
			return aescrypto.Key128{}, fmt.Errorf("keys: missing titlekek (gen=%d)", f1)
		}
		return *k.keks.titlekek[f1], nil
	case KindTitlekey:
		key, ok := k.titlekeys[rightsIDKey(f1, f2)]
		if !ok {
			return aescrypto.Key128{}, fmt.Errorf("keys: missing titlekey")
		}
		return key, nil
	}
	return aescrypto.Key128{}, fmt.Errorf("keys: kind %d is not a 128-bit key", kind)
}

// GetKey256 implements Manager. Only KindHeader produces a 256-bit key.
func (k *FileKeySet) GetKey256(kind Kind, f1, f2 uint64) (aescrypto.Key256, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if kind != KindHeader {
		return aescrypto.Key256{}, fmt.Errorf("keys: kind %d is not a 256-bit key", kind)
	}
	hk := k.raw["header_key"]
	if len(hk) != 32 {
		return aescrypto.Key256{}, fmt.Errorf("keys: header_key missing or wrong size")
	}
	var key aescrypto.Key256
	copy(key[:], hk)
	return key, nil
}

var _ Manager = (*FileKeySet)(nil)
