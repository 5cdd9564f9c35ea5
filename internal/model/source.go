package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/nexttoken/internal/safetensors"
	"github.com/samcharles93/nexttoken/internal/tensor"
)

// WeightsIndexFile maps tensor names to shards in a sharded checkpoint.
const WeightsIndexFile = "model.safetensors.index.json"

type tensorSource interface {
	// ReadTensor decodes a tensor to float32 with its shape.
	ReadTensor(name string) ([]float32, []int, error)
	TensorShape(name string) ([]int, bool)
	Close() error
}

// safetensorsSource serves tensors from one or more safetensors shards.
type safetensorsSource struct {
	files  []*safetensors.File
	byName map[string]*safetensors.File
}

// openWeights opens dir/model.safetensors, or every shard listed in
// dir/model.safetensors.index.json.
func openWeights(dir string) (*safetensorsSource, error) {
	single := filepath.Join(dir, WeightsFile)
	if _, err := os.Stat(single); err == nil {
		f, err := safetensors.Open(single)
		if err != nil {
			return nil, err
		}
		return newSafetensorsSource([]*safetensors.File{f}), nil
	}

	raw, err := os.ReadFile(filepath.Join(dir, WeightsIndexFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no %s or %s in %s", WeightsFile, WeightsIndexFile, dir)
	}
	if err != nil {
		return nil, err
	}
	var index struct {
		WeightMap map[string]string `json:"weight_map"`
	}
	if err := json.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("parse %s: %w", WeightsIndexFile, err)
	}
	var shards []string
	for _, shard := range index.WeightMap {
		if !slices.Contains(shards, shard) {
			shards = append(shards, shard)
		}
	}
	slices.Sort(shards)
	if len(shards) == 0 {
		return nil, fmt.Errorf("%s lists no shards", WeightsIndexFile)
	}

	files := make([]*safetensors.File, 0, len(shards))
	for _, shard := range shards {
		f, err := safetensors.Open(filepath.Join(dir, filepath.Base(shard)))
		if err != nil {
			for _, open := range files {
				_ = open.Close()
			}
			return nil, fmt.Errorf("shard %s: %w", shard, err)
		}
		files = append(files, f)
	}
	return newSafetensorsSource(files), nil
}

// HasWeights reports whether dir holds a single-file or sharded checkpoint.
func HasWeights(dir string) bool {
	for _, name := range []string{WeightsFile, WeightsIndexFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

func newSafetensorsSource(files []*safetensors.File) *safetensorsSource {
	s := &safetensorsSource{files: files, byName: make(map[string]*safetensors.File)}
	for _, f := range files {
		for name := range f.Tensors {
			s.byName[name] = f
		}
	}
	return s
}

func (s *safetensorsSource) ReadTensor(name string) ([]float32, []int, error) {
	f, ok := s.byName[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", safetensors.ErrTensorNotFound, name)
	}
	data, info, err := f.F32(name)
	if err != nil {
		return nil, nil, err
	}
	return data, info.Shape, nil
}

func (s *safetensorsSource) TensorShape(name string) ([]int, bool) {
	f, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	info, _ := f.Tensor(name)
	return info.Shape, true
}

// Close unmaps every shard. Tensors already read stay valid since F32 copies.
func (s *safetensorsSource) Close() error {
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

func isTensorMissing(err error) bool {
	return errors.Is(err, safetensors.ErrTensorNotFound)
}

func loadMat(src tensorSource, name string) (*tensor.Mat, error) {
	data, shape, err := src.ReadTensor(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("%s: expected 2D tensor, got %v", name, shape)
	}
	m, err := tensor.FromData(shape[0], shape[1], data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &m, nil
}

func loadVec(src tensorSource, name string) ([]float32, error) {
	data, shape, err := src.ReadTensor(name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("%s: expected 1D tensor, got %v", name, shape)
	}
	return data, nil
}

// loadMatCandidates returns the first candidate present in src, or nil when
// none is.
func loadMatCandidates(src tensorSource, candidates []string) (*tensor.Mat, string, error) {
	for _, name := range candidates {
		m, err := loadMat(src, name)
		if err == nil {
			return m, name, nil
		}
		if isTensorMissing(err) {
			continue
		}
		return nil, "", err
	}
	return nil, "", nil
}

func loadVecCandidates(src tensorSource, candidates []string) ([]float32, string, error) {
	for _, name := range candidates {
		v, err := loadVec(src, name)
		if err == nil {
			return v, name, nil
		}
		if isTensorMissing(err) {
			continue
		}
		return nil, "", err
	}
	return nil, "", nil
}

// loadOptionalVec returns nil without error when name is absent.
func loadOptionalVec(src tensorSource, name string) ([]float32, error) {
	v, err := loadVec(src, name)
	if isTensorMissing(err) {
		return nil, nil
	}
	return v, err
}
