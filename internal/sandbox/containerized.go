package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/purgo/internal/interfaces"
	"github.com/ternarybob/purgo/internal/models"
)

// stopTimeoutSeconds bounds the guaranteed container stop after a run.
const stopTimeoutSeconds = 10

// Containerized executes cleaning jobs in a throwaway container. The image
// is expected to idle after startup and to ship the /opt/analyze and
// /opt/process tools of the container ABI. The engine socket is reached
// through the Docker-compatible API, which Podman exposes as well.
type Containerized struct {
	host   string
	image  string
	logger arbor.ILogger
}

// NewContainerized creates a sandbox talking to the container engine at
// host (e.g. unix:///run/podman/podman.sock) using the given image.
func NewContainerized(host, image string, logger arbor.ILogger) *Containerized {
	logger.Info().Str("image", image).Str("host", host).Msg("Containerized sandbox ready")
	return &Containerized{host: host, image: image, logger: logger}
}

// Process runs the analyze/process/analyze pipeline for one document. It
// never returns an error: failures are reported through Success with the
// cause appended to the log, and the container is stopped in every case.
func (s *Containerized) Process(ctx context.Context, source []byte, params models.JobParams) interfaces.SandboxResult {
	var res interfaces.SandboxResult

	// Each run gets a unique container name so engine-side leftovers can be
	// matched to log lines during diagnosis.
	runName := "purgo-" + uuid.NewString()
	logger := s.logger.WithCorrelationId(runName)

	cli, err := client.NewClientWithOpts(client.WithHost(s.host), client.WithAPIVersionNegotiation())
	if err != nil {
		logger.Warn().Err(err).Str("host", s.host).Msg("Failed to create container engine client")
		res.Log = append(res.Log, fmt.Sprintf("Container engine at %s is unavailable", s.host))
		return res
	}
	defer cli.Close()

	created, err := cli.ContainerCreate(ctx,
		&container.Config{Image: s.image},
		&container.HostConfig{AutoRemove: true, NetworkMode: "none"},
		nil, nil, runName)
	if err != nil {
		logger.Warn().Err(err).Str("image", s.image).Msg("Could not create sandbox container")
		res.Log = append(res.Log, fmt.Sprintf("Invalid container image %s", s.image))
		return res
	}
	id := created.ID

	// Guaranteed stop on a fresh context so a canceled job can't leak a
	// running container. AutoRemove lets the engine clean up afterwards.
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), (stopTimeoutSeconds+5)*time.Second)
		defer cancel()
		timeout := stopTimeoutSeconds
		if err := cli.ContainerStop(stopCtx, id, container.StopOptions{Timeout: &timeout}); err != nil {
			logger.Warn().Err(err).Str("container_id", id).Msg("Failed to stop sandbox container")
		}
	}()

	if err := cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		logger.Warn().Err(err).Str("container_id", id).Msg("Could not start sandbox container")
		res.Log = append(res.Log, fmt.Sprintf("Failed to start container for image %s", s.image))
		return res
	}

	upload, err := buildUploadArchive(source, params)
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	if err := cli.CopyToContainer(ctx, id, "/tmp", upload, types.CopyToContainerOptions{}); err != nil {
		logger.Warn().Err(err).Str("container_id", id).Msg("Failed to upload source into sandbox")
		res.Log = append(res.Log, "Failed to upload source document into the container")
		return res
	}

	// Pre-process metadata analysis.
	out, code, err := s.exec(ctx, cli, id, "/opt/analyze", "/tmp/source", "/tmp/meta_src", "/tmp/params")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	if code != 0 {
		res.Log = appendLines(res.Log, out)
		return res
	}

	// Document processing. The tool's output is logged regardless of outcome.
	out, code, err = s.exec(ctx, cli, id, "/opt/process", "/tmp/source", "/tmp/result", "/tmp/params")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	res.Log = appendLines(res.Log, out)
	if code != 0 {
		return res
	}

	// Post-process metadata analysis.
	out, code, err = s.exec(ctx, cli, id, "/opt/analyze", "/tmp/result", "/tmp/meta_result", "/tmp/params")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	if code != 0 {
		res.Log = appendLines(res.Log, out)
		return res
	}

	result, err := s.retrieveFile(ctx, cli, id, "/tmp/result")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	metaSrc, err := s.retrieveMetadata(ctx, cli, id, "/tmp/meta_src")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}
	metaResult, err := s.retrieveMetadata(ctx, cli, id, "/tmp/meta_result")
	if err != nil {
		res.Log = append(res.Log, err.Error())
		return res
	}

	res.Success = true
	res.Result = result
	res.MetadataSrc = metaSrc
	res.MetadataResult = metaResult
	return res
}

// exec runs cmd inside the container and returns its combined output and
// exit code. Returning from StdCopy means the command has exited, so the
// subsequent inspect reads a settled exit code.
func (s *Containerized) exec(ctx context.Context, cli *client.Client, containerID string, cmd ...string) (string, int, error) {
	execResp, err := cli.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to prepare %s: %w", cmd[0], err)
	}
	attach, err := cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return "", 0, fmt.Errorf("failed to run %s: %w", cmd[0], err)
	}
	defer attach.Close()

	var output bytes.Buffer
	if _, err := stdcopy.StdCopy(&output, &output, attach.Reader); err != nil {
		return "", 0, fmt.Errorf("failed to read %s output: %w", cmd[0], err)
	}
	inspect, err := cli.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to inspect %s: %w", cmd[0], err)
	}
	return output.String(), inspect.ExitCode, nil
}

// retrieveFile copies a single file out of the container. The engine wraps
// the file in a tar stream.
func (s *Containerized) retrieveFile(ctx context.Context, cli *client.Client, containerID, filePath string) ([]byte, error) {
	reader, _, err := cli.CopyFromContainer(ctx, containerID, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s from container: %w", filePath, err)
	}
	defer reader.Close()

	want := path.Base(filePath)
	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive of %s: %w", filePath, err)
		}
		if hdr.Typeflag == tar.TypeDir || path.Base(hdr.Name) != want {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from archive: %w", filePath, err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%s missing from container", filePath)
}

func (s *Containerized) retrieveMetadata(ctx context.Context, cli *client.Client, containerID, filePath string) (models.RawMetadata, error) {
	var meta models.RawMetadata
	data, err := s.retrieveFile(ctx, cli, containerID, filePath)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode metadata from %s: %w", filePath, err)
	}
	return meta, nil
}

// appendLines splits tool output into individual log lines. Empty output
// adds nothing.
func appendLines(log []string, out string) []string {
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if line != "" {
			log = append(log, line)
		}
	}
	return log
}

// buildUploadArchive packs the source document and the JSON-encoded params
// into a tar stream for CopyToContainer.
func buildUploadArchive(source []byte, params models.JobParams) (io.Reader, error) {
	if params == nil {
		params = models.JobParams{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job params: %w", err)
	}

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, entry := range []struct {
		name string
		data []byte
	}{
		{"source", source},
		{"params", paramsJSON},
	} {
		hdr := &tar.Header{Name: entry.name, Mode: 0644, Size: int64(len(entry.data))}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, fmt.Errorf("failed to write archive header: %w", err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return nil, fmt.Errorf("failed to write archive entry: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize archive: %w", err)
	}
	return &buf, nil
}
