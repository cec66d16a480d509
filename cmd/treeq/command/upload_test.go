package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/planetlabs/treeq/cmd/treeq/command"
)

func (s *Suite) TestUpload() {
	output := s.convert(s.amsterdam())
	pending := map[string]any{
		"name":           "Utrecht",
		"local_path":     filepath.Join(s.dir, "utrecht.csv"),
		"file_type":      "csv",
		"column_mapping": map[string]string{"Municipality": "Utrecht", "Lon": "lon", "Lat": "lat"},
	}

	bucket := s.T().TempDir()
	cmd := &command.UploadCmd{
		Config: s.writeConfig(s.amsterdam(), pending),
		Output: output,
		Bucket: "file://" + bucket,
		Prefix: "/trees/2026/",
		Format: "json",
	}
	s.Require().NoError(cmd.Run())

	results := []*command.UploadResult{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), &results))
	s.Require().Len(results, 2)

	s.Equal("trees/2026/amsterdam/amsterdam.parquet", results[0].Key)
	s.Empty(results[0].Error)

	local, err := os.Stat(filepath.Join(output, "amsterdam", "amsterdam.parquet"))
	s.Require().NoError(err)
	s.Equal(local.Size(), results[0].Bytes)

	uploaded, err := os.Stat(filepath.Join(bucket, "trees", "2026", "amsterdam", "amsterdam.parquet"))
	s.Require().NoError(err)
	s.Equal(local.Size(), uploaded.Size())

	s.True(results[1].Skipped)
	s.Empty(results[1].Key)
}

func (s *Suite) TestUploadBadBucket() {
	output := s.convert(s.amsterdam())

	cmd := &command.UploadCmd{
		Config: s.writeConfig(s.amsterdam()),
		Output: output,
		Bucket: "nope://bucket",
		Format: "json",
	}
	err := cmd.Run()
	s.Require().Error(err)
	s.Equal("1 of 1 upload failed", err.Error())

	results := []*command.UploadResult{}
	s.Require().NoError(json.Unmarshal(s.readStdout(), &results))
	s.Require().Len(results, 1)
	s.Contains(results[0].Error, "failed to open bucket")
}
