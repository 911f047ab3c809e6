package storage

import (
	"github.com/bobboyms/storage-engine/pkg/btree"
	"github.com/bobboyms/storage-engine/pkg/errors"
	"github.com/bobboyms/storage-engine/pkg/heap"
)

type DataType int

const (
	TypeInt     DataType = iota // 0: integer (int64)
	TypeVarchar                 // 1: variable-length string
	TypeBoolean                 // 2: bool
	TypeFloat                   // 3: float64
	TypeDate                    // 4: timestamp
)

// String is a small debug-printing helper.
func (d DataType) String() string {
	return [...]string{"INT", "VARCHAR", "BOOL", "FLOAT", "DATE"}[d]
}

type Index struct {
	Name    string
	Primary bool
	Type    DataType
	Tree    *btree.BPlusTree
}

type Table struct {
	Name    string
	Heap    *heap.HeapManager
	Indices map[string]*Index
}

type TableMetaData struct {
	tables map[string]*Table
}

func NewTableMenager() *TableMetaData {
	return &TableMetaData{
		tables: make(map[string]*Table),
	}
}

func (tb *TableMetaData) NewTable(tableName string, indices []Index, t int, hm *heap.HeapManager) error {
	// Check whether the table already exists.
	if _, exists := tb.tables[tableName]; exists {
		return &errors.TableAlreadyExistsError{
			Name: tableName,
		}
	}

	tempIndices := make(map[string]*Index, len(indices))

	primaryCount := 0
	for _, value := range indices {
		// Use a unique tree for the primary key.
		var tree *btree.BPlusTree
		if value.Primary {
			tree = btree.NewUniqueTree(t)
			primaryCount++
		} else {
			tree = btree.NewTree(t)
		}

		idxPtr := &Index{
			Name:    value.Name,
			Primary: value.Primary,
			Type:    value.Type,
			Tree:    tree,
		}

		tempIndices[value.Name] = idxPtr

	}

	if primaryCount == 0 {
		return &errors.PrimarykeyNotDefinedError{
			TableName: tableName,
		}
	}

	if primaryCount > 1 {
		return &errors.TwoPrimarykeysError{
			Total: primaryCount,
		}
	}

	tb.tables[tableName] = &Table{
		Name:    tableName,
		Heap:    hm,
		Indices: tempIndices,
	}

	return nil
}

func (tb *TableMetaData) GetTableByName(name string) (*Table, error) {
	table, ok := tb.tables[name]
	if !ok {
		return nil, &errors.TableNotFoundError{
			Name: name,
		}
	}
	return table, nil
}

func (tb *TableMetaData) GetIndexByName(tableName string, indexName string) (*Index, error) {
	table, err := tb.GetTableByName(tableName)
	if err != nil {
		return nil, err
	}

	index, ok := table.Indices[indexName]
	if !ok {
		return nil, &errors.IndexNotFoundError{
			Name: indexName,
		}
	}
	return index, nil
}
