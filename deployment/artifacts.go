package deployment

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ErrArtifactNotFound is returned when no compiled artifact exists for a contract name.
var ErrArtifactNotFound = errors.New("artifact not found")

// Artifact is a compiled contract. Networks that do not execute bytecode only use Name.
type Artifact struct {
	Name     ContractType
	ABI      abi.ABI
	Bytecode []byte
}

// ArtifactSource resolves compiled contracts by name.
type ArtifactSource interface {
	Artifact(name ContractType) (Artifact, error)
}

// HardhatArtifacts reads the artifacts directory written by `npx hardhat compile`
// (artifacts/contracts/<File>.sol/<Name>.json, plus dependency artifacts such as
// @openzeppelin's ERC1967Proxy).
type HardhatArtifacts struct {
	root string

	mu    sync.Mutex
	index map[ContractType]string
	cache map[ContractType]Artifact
}

func NewHardhatArtifacts(root string) *HardhatArtifacts {
	return &HardhatArtifacts{
		root:  root,
		cache: make(map[ContractType]Artifact),
	}
}

func (h *HardhatArtifacts) Artifact(name ContractType) (Artifact, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if a, ok := h.cache[name]; ok {
		return a, nil
	}
	if h.index == nil {
		if err := h.buildIndex(); err != nil {
			return Artifact{}, err
		}
	}
	path, ok := h.index[name]
	if !ok {
		return Artifact{}, errors.Wrapf(ErrArtifactNotFound, "%s under %s", name, h.root)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "read artifact %s", path)
	}
	a, err := ParseHardhatArtifact(raw)
	if err != nil {
		return Artifact{}, errors.Wrapf(err, "parse artifact %s", path)
	}
	h.cache[name] = a
	return a, nil
}

func (h *HardhatArtifacts) buildIndex() error {
	index := make(map[ContractType]string)
	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".dbg.json") {
			return nil
		}
		// build-info files are large and never artifacts
		if strings.Contains(path, string(filepath.Separator)+"build-info"+string(filepath.Separator)) {
			return nil
		}
		name := ContractType(strings.TrimSuffix(filepath.Base(path), ".json"))
		if _, dup := index[name]; !dup {
			index[name] = path
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "index artifacts under %s", h.root)
	}
	h.index = index
	return nil
}

// ParseHardhatArtifact decodes a single hardhat artifact document.
func ParseHardhatArtifact(raw []byte) (Artifact, error) {
	if !gjson.ValidBytes(raw) {
		return Artifact{}, errors.New("artifact is not valid json")
	}
	doc := gjson.ParseBytes(raw)
	name := doc.Get("contractName").String()
	if name == "" {
		return Artifact{}, errors.New("artifact has no contractName")
	}
	parsed, err := abi.JSON(strings.NewReader(doc.Get("abi").Raw))
	if err != nil {
		return Artifact{}, errors.Wrap(err, "decode abi")
	}
	code, err := hexutil.Decode(doc.Get("bytecode").String())
	if err != nil {
		return Artifact{}, errors.Wrap(err, "decode bytecode")
	}
	return Artifact{Name: ContractType(name), ABI: parsed, Bytecode: code}, nil
}

// NamedArtifacts serves name-only artifacts, for networks that model contracts
// instead of executing their bytecode.
type NamedArtifacts struct{}

func (NamedArtifacts) Artifact(name ContractType) (Artifact, error) {
	if name == "" {
		return Artifact{}, errors.Wrap(ErrArtifactNotFound, "empty name")
	}
	return Artifact{Name: name}, nil
}
