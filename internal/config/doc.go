// Package config loads the stack declaration that describes a delivery
// pipeline: the target cluster, the container registry, the source
// repository, where artifacts are kept, and the ordered list of stages.
//
// [LoadFile] reads a shipgate.yaml file, fills defaults (including the
// default six-step source/scan/gate/build/gate/deploy layout when no stages
// are declared) and validates the result. [LoadTimeouts] reads per-stage
// timeouts from SHIPGATE_* environment variables.
package config
