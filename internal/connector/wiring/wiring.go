// Package wiring assembles a connector.Registry with every built-in
// connector type registered. It lives outside package connector so it can
// import the database/api/file subpackages without creating an import
// cycle back into connector itself.
package wiring

import (
	"github.com/rakunlabs/ingestcore/internal/connector"
	"github.com/rakunlabs/ingestcore/internal/connector/api"
	"github.com/rakunlabs/ingestcore/internal/connector/database"
	"github.com/rakunlabs/ingestcore/internal/connector/file"
	"github.com/rakunlabs/ingestcore/internal/model"
)

// NewDefaultRegistry builds a Registry with every built-in connector type
// registered, mirroring the Python package's import-time auto-registration
// as an explicit call instead of side-effecting imports.
func NewDefaultRegistry() *connector.Registry {
	r := connector.NewRegistry()

	r.Register(model.SubtypePostgreSQL, database.New, connector.TypeInfo{
		Type: model.ConnectorTypeDatabase, Subtype: model.SubtypePostgreSQL,
		Name: "PostgreSQL", Description: "Connect to PostgreSQL databases for claims and reference data",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})
	r.Register(model.SubtypeMySQL, database.NewMySQL, connector.TypeInfo{
		Type: model.ConnectorTypeDatabase, Subtype: model.SubtypeMySQL,
		Name: "MySQL", Description: "Connect to MySQL databases for claims and reference data",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})
	r.Register(model.SubtypeSQLServer, database.NewSQLServer, connector.TypeInfo{
		Type: model.ConnectorTypeDatabase, Subtype: model.SubtypeSQLServer,
		Name: "SQL Server", Description: "Connect to Microsoft SQL Server databases for claims and reference data",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})

	r.Register(model.SubtypeREST, api.NewREST, connector.TypeInfo{
		Type: model.ConnectorTypeAPI, Subtype: model.SubtypeREST,
		Name: "REST API", Description: "Connect to paginated JSON REST APIs for claims and reference data",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})
	r.Register(model.SubtypeFHIR, api.NewFHIR, connector.TypeInfo{
		Type: model.ConnectorTypeAPI, Subtype: model.SubtypeFHIR,
		Name: "FHIR", Description: "Connect to FHIR R4 servers for claims, coverage, and patient resources",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders},
	})

	r.Register(model.SubtypeS3, file.NewS3, connector.TypeInfo{
		Type: model.ConnectorTypeFile, Subtype: model.SubtypeS3,
		Name: "Amazon S3", Description: "Connect to S3 buckets for claims files (EDI, CSV, JSON)",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})
	r.Register(model.SubtypeSFTP, file.NewSFTP, connector.TypeInfo{
		Type: model.ConnectorTypeFile, Subtype: model.SubtypeSFTP,
		Name: "SFTP", Description: "Connect to SFTP servers for claims files (EDI, CSV)",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})
	r.Register(model.SubtypeAzureBlob, file.NewAzureBlob, connector.TypeInfo{
		Type: model.ConnectorTypeFile, Subtype: model.SubtypeAzureBlob,
		Name: "Azure Blob Storage", Description: "Connect to Azure Blob Storage for claims files (EDI, CSV)",
		SupportedDataTypes: []model.DataType{model.DataTypeClaims, model.DataTypeEligibility, model.DataTypeProviders, model.DataTypeReference},
	})

	return r
}
