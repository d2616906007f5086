package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"sms-range-relay/internal/domain"
)

const (
	rangesFile  = "sms_ranges.json"
	numbersFile = "sms_numbers.json"
)

var _ domain.StateStore = (*FileStore)(nil)

// FileStore хранит снимок состояния в двух JSON-файлах, пригодных для
// чтения глазами при разборе инцидентов. Оба файла переписываются целиком
// в конце успешного цикла.
type FileStore struct {
	dir string
	log zerolog.Logger
}

// NewFileStore создаёт хранилище в каталоге dir.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{dir: dir, log: logger}
}

// Load читает снимок. Отсутствующий или нечитаемый файл — это пустое
// состояние, а не ошибка: при первом запуске хранилища ещё нет, а битый
// файл означает лишь повторную доставку текущего цикла.
func (s *FileStore) Load() (domain.RangeState, domain.NumberState, error) {
	ranges := domain.RangeState{}
	if err := s.readJSON(rangesFile, &ranges); err != nil {
		s.log.Warn().Err(err).Msg("state: снимок диапазонов сброшен в пустой")
		ranges = domain.RangeState{}
	}
	numbers := domain.NumberState{}
	if err := s.readJSON(numbersFile, &numbers); err != nil {
		s.log.Warn().Err(err).Msg("state: снимок номеров сброшен в пустой")
		numbers = domain.NumberState{}
	}
	return ranges, numbers, nil
}

// Save атомарно переписывает оба файла снимка.
func (s *FileStore) Save(ranges domain.RangeState, numbers domain.NumberState) error {
	if err := s.writeJSON(rangesFile, ranges); err != nil {
		return fmt.Errorf("сохранение диапазонов: %w", err)
	}
	if err := s.writeJSON(numbersFile, numbers); err != nil {
		return fmt.Errorf("сохранение номеров: %w", err)
	}
	return nil
}

func (s *FileStore) readJSON(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (s *FileStore) writeJSON(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
