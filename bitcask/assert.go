package bitcask

import "github.com/aurorakv/kvs/engine"

var _ engine.Engine = (*DB)(nil)
