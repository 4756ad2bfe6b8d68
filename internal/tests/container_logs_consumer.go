package tests

import (
    "bufio"
    "fmt"
    "os"

    "github.com/testcontainers/testcontainers-go"
)

// ContainerLogConsumer writes the output of a test container to
// containerlogs/<container name>.log.
type ContainerLogConsumer struct {
    file *os.File
}

func NewContainerLogConsumer(containerName string) *ContainerLogConsumer {
    wd, err := os.Getwd()
    if err != nil {
        panic(err)
    }
    logsDir := fmt.Sprintf("%s/containerlogs", wd)
    err = os.MkdirAll(logsDir, 0o755)
    if err != nil {
        panic(err)
    }
    file, err := os.Create(fmt.Sprintf("%s/%s.log", logsDir, containerName))
    if err != nil {
        panic(err)
    }
    return &ContainerLogConsumer{
        file: file,
    }
}

func (c *ContainerLogConsumer) Accept(log testcontainers.Log) {
    w := bufio.NewWriter(c.file)
    _, err := w.Write(log.Content)
    if err != nil {
        panic(err)
    }
    err = w.Flush()
    if err != nil {
        panic(err)
    }
}
