package constraint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrip(t *testing.T) {
	tableTToU := ForeignKeyDefinition{
		ConstraintName:    "fk",
		SourceSchema:      "dbo",
		SourceTable:       "t",
		SourceColumns:     []string{"p"},
		ReferencedSchema:  "dbo",
		ReferencedTable:   "u",
		ReferencedColumns: []string{"id"},
	}

	for _, tc := range []struct {
		name            string
		definition      string
		tableName       string
		schemaName      string
		expectedDDL     string
		expectedDefs    []ForeignKeyDefinition
		expectedInvalid []string
	}{
		{
			name: "no foreign keys",
			definition: "CREATE TABLE [dbo].[regions] (\n" +
				"    [region_id] INT NOT NULL, -- FOREIGN KEY in a comment\n" +
				"    [note] NVARCHAR(20) DEFAULT 'FOREIGN KEY (a) REFERENCES b (a)' ,\n" +
				")",
			schemaName: "dbo",
			expectedDDL: "CREATE TABLE [dbo].[regions] (\n" +
				"    [region_id] INT NOT NULL, -- FOREIGN KEY in a comment\n" +
				"    [note] NVARCHAR(20) DEFAULT 'FOREIGN KEY (a) REFERENCES b (a)' ,\n" +
				")",
		},
		{
			name: "bracketed trailing constraint",
			definition: "CREATE TABLE [APP].[STORES] (\n" +
				"    [STORE_ID] INT NOT NULL,\n" +
				"    [REGION_ID] INT NOT NULL,\n" +
				"    CONSTRAINT [FK_STORES_REGION] FOREIGN KEY ([REGION_ID]) REFERENCES [APP].[REGIONS] ([REGION_ID])\n" +
				")",
			schemaName: "dbo",
			expectedDDL: "CREATE TABLE [APP].[STORES] (\n" +
				"    [STORE_ID] INT NOT NULL,\n" +
				"    [REGION_ID] INT NOT NULL\n" +
				")",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "FK_STORES_REGION",
				SourceSchema:      "APP",
				SourceTable:       "STORES",
				SourceColumns:     []string{"REGION_ID"},
				ReferencedSchema:  "APP",
				ReferencedTable:   "REGIONS",
				ReferencedColumns: []string{"REGION_ID"},
			}},
		},
		{
			name: "multiple keys with actions between columns",
			definition: "CREATE TABLE dbo.order_lines (\n" +
				"    order_id INT,\n" +
				"    product_id INT,\n" +
				"    CONSTRAINT fk_order FOREIGN KEY (order_id) REFERENCES dbo.orders (id) ON DELETE CASCADE,\n" +
				"    CONSTRAINT fk_product FOREIGN KEY (product_id) REFERENCES \"Sales\".products (id) on update set null on delete no action,\n" +
				"    qty INT\n" +
				")",
			expectedDDL: "CREATE TABLE dbo.order_lines (\n" +
				"    order_id INT,\n" +
				"    product_id INT,\n" +
				"    qty INT\n" +
				")",
			expectedDefs: []ForeignKeyDefinition{
				{
					ConstraintName:    "fk_order",
					SourceSchema:      "dbo",
					SourceTable:       "order_lines",
					SourceColumns:     []string{"order_id"},
					ReferencedSchema:  "dbo",
					ReferencedTable:   "orders",
					ReferencedColumns: []string{"id"},
					OnDelete:          "CASCADE",
				},
				{
					ConstraintName:    "fk_product",
					SourceSchema:      "dbo",
					SourceTable:       "order_lines",
					SourceColumns:     []string{"product_id"},
					ReferencedSchema:  "Sales",
					ReferencedTable:   "products",
					ReferencedColumns: []string{"id"},
					OnDelete:          "NO ACTION",
					OnUpdate:          "SET NULL",
				},
			},
		},
		{
			name:        "composite key",
			definition:  "CREATE TABLE t (a INT, b INT, CONSTRAINT fk_ab FOREIGN KEY (a, [b]) REFERENCES u (x, y))",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (a INT, b INT)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "fk_ab",
				SourceSchema:      "dbo",
				SourceTable:       "t",
				SourceColumns:     []string{"a", "b"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "u",
				ReferencedColumns: []string{"x", "y"},
			}},
		},
		{
			name:        "leading unnamed key gets a generated name",
			definition:  "CREATE TABLE t (FOREIGN KEY (a) REFERENCES u (a), a INT)",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (a INT)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "FK_t_u",
				SourceSchema:      "dbo",
				SourceTable:       "t",
				SourceColumns:     []string{"a"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "u",
				ReferencedColumns: []string{"a"},
				GeneratedName:     true,
			}},
		},
		{
			name:        "generated names do not collide",
			definition:  "CREATE TABLE t (a INT, b INT, FOREIGN KEY (a) REFERENCES u (a), FOREIGN KEY (b) REFERENCES u (b))",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (a INT, b INT)",
			expectedDefs: []ForeignKeyDefinition{
				{
					ConstraintName:    "FK_t_u",
					SourceSchema:      "dbo",
					SourceTable:       "t",
					SourceColumns:     []string{"a"},
					ReferencedSchema:  "dbo",
					ReferencedTable:   "u",
					ReferencedColumns: []string{"a"},
					GeneratedName:     true,
				},
				{
					ConstraintName:    "FK_t_u_2",
					SourceSchema:      "dbo",
					SourceTable:       "t",
					SourceColumns:     []string{"b"},
					ReferencedSchema:  "dbo",
					ReferencedTable:   "u",
					ReferencedColumns: []string{"b"},
					GeneratedName:     true,
				},
			},
		},
		{
			name:        "self reference without referenced columns",
			definition:  "CREATE TABLE dbo.employees (id INT PRIMARY KEY, manager_id INT, CONSTRAINT fk_mgr FOREIGN KEY (manager_id) REFERENCES employees)",
			schemaName:  "ignored",
			expectedDDL: "CREATE TABLE dbo.employees (id INT PRIMARY KEY, manager_id INT)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:   "fk_mgr",
				SourceSchema:     "dbo",
				SourceTable:      "employees",
				SourceColumns:    []string{"manager_id"},
				ReferencedSchema: "dbo",
				ReferencedTable:  "employees",
			}},
		},
		{
			name:        "explicit table name wins over the header",
			definition:  "CREATE TABLE #staging (a INT, CONSTRAINT fk FOREIGN KEY (a) REFERENCES db.ref.u (a) NOT FOR REPLICATION)",
			tableName:   "staging",
			schemaName:  "etl",
			expectedDDL: "CREATE TABLE #staging (a INT)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "fk",
				SourceSchema:      "etl",
				SourceTable:       "staging",
				SourceColumns:     []string{"a"},
				ReferencedSchema:  "ref",
				ReferencedTable:   "u",
				ReferencedColumns: []string{"a"},
				Options:           "NOT FOR REPLICATION",
			}},
		},
		{
			name:        "column count mismatch is removed but invalid",
			definition:  "CREATE TABLE t (a INT, b INT, CONSTRAINT fk_bad FOREIGN KEY (a, b) REFERENCES u (x), CONSTRAINT fk_ok FOREIGN KEY (a) REFERENCES v (a))",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (a INT, b INT)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "fk_ok",
				SourceSchema:      "dbo",
				SourceTable:       "t",
				SourceColumns:     []string{"a"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "v",
				ReferencedColumns: []string{"a"},
			}},
			expectedInvalid: []string{"invalid foreign key fk_bad on DBO.T: 2 source columns but 1 referenced columns"},
		},
		{
			name:            "empty constraint name is removed but invalid",
			definition:      "CREATE TABLE t (a INT, CONSTRAINT [] FOREIGN KEY (a) REFERENCES u (a))",
			schemaName:      "dbo",
			expectedDDL:     "CREATE TABLE t (a INT)",
			expectedInvalid: []string{"invalid foreign key <unnamed> on DBO.T: constraint name is empty"},
		},
		{
			name:            "expression in the column list is malformed and left in place",
			definition:      "CREATE TABLE t (a INT, CONSTRAINT fk_expr FOREIGN KEY (LOWER(a)) REFERENCES u (a))",
			schemaName:      "dbo",
			expectedDDL:     "CREATE TABLE t (a INT, CONSTRAINT fk_expr FOREIGN KEY (LOWER(a)) REFERENCES u (a))",
			expectedInvalid: []string{"invalid foreign key fk_expr on DBO.T: expected a list of column names after FOREIGN KEY"},
		},
		{
			name:            "missing REFERENCES is malformed",
			definition:      "CREATE TABLE t (a INT, CONSTRAINT fk_x FOREIGN KEY (a))",
			schemaName:      "dbo",
			expectedDDL:     "CREATE TABLE t (a INT, CONSTRAINT fk_x FOREIGN KEY (a))",
			expectedInvalid: []string{"invalid foreign key fk_x on DBO.T: expected REFERENCES after the foreign key columns"},
		},
		{
			name: "alter table statements and check constraint statements",
			definition: "CREATE TABLE [dbo].[Orders] (\n" +
				"    [Id] INT NOT NULL,\n" +
				"    [CustomerId] INT NOT NULL\n" +
				")\n" +
				"GO\n" +
				"ALTER TABLE [dbo].[Orders] WITH CHECK ADD CONSTRAINT [FK_Orders_Customers] FOREIGN KEY([CustomerId])\n" +
				"REFERENCES [sales].[Customers] ([Id])\n" +
				"GO\n" +
				"ALTER TABLE [dbo].[Orders] CHECK CONSTRAINT [FK_Orders_Customers]\n" +
				"GO\n",
			schemaName: "dbo",
			expectedDDL: "CREATE TABLE [dbo].[Orders] (\n" +
				"    [Id] INT NOT NULL,\n" +
				"    [CustomerId] INT NOT NULL\n" +
				")\n" +
				"GO\n",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "FK_Orders_Customers",
				SourceSchema:      "dbo",
				SourceTable:       "Orders",
				SourceColumns:     []string{"CustomerId"},
				ReferencedSchema:  "sales",
				ReferencedTable:   "Customers",
				ReferencedColumns: []string{"Id"},
			}},
		},
		{
			name: "postgres alter table only with options",
			definition: "CREATE TABLE app.stores (id int, region_id int);\n" +
				"ALTER TABLE ONLY app.stores\n" +
				"    ADD CONSTRAINT stores_region_fk FOREIGN KEY (region_id) REFERENCES app.regions(id) DEFERRABLE INITIALLY DEFERRED NOT VALID;",
			schemaName:  "public",
			expectedDDL: "CREATE TABLE app.stores (id int, region_id int);\n",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "stores_region_fk",
				SourceSchema:      "app",
				SourceTable:       "stores",
				SourceColumns:     []string{"region_id"},
				ReferencedSchema:  "app",
				ReferencedTable:   "regions",
				ReferencedColumns: []string{"id"},
				Options:           "DEFERRABLE INITIALLY DEFERRED NOT VALID",
			}},
		},
		{
			name: "foreign key after another ADD action",
			definition: "CREATE TABLE t (id int, p int);\n" +
				"ALTER TABLE t ADD CONSTRAINT pk PRIMARY KEY (id), ADD CONSTRAINT fk FOREIGN KEY (p) REFERENCES u (id);",
			schemaName:   "dbo",
			expectedDDL:  "CREATE TABLE t (id int, p int);\nALTER TABLE t ADD CONSTRAINT pk PRIMARY KEY (id);",
			expectedDefs: []ForeignKeyDefinition{tableTToU},
		},
		{
			name: "foreign key before another ADD action",
			definition: "CREATE TABLE t (id int, p int);\n" +
				"ALTER TABLE t ADD CONSTRAINT fk FOREIGN KEY (p) REFERENCES u (id), ADD CONSTRAINT pk PRIMARY KEY (id);",
			schemaName:   "dbo",
			expectedDDL:  "CREATE TABLE t (id int, p int);\nALTER TABLE t ADD CONSTRAINT pk PRIMARY KEY (id);",
			expectedDefs: []ForeignKeyDefinition{tableTToU},
		},
		{
			name: "foreign key before another action sharing one ADD",
			definition: "CREATE TABLE t (id int, p int);\n" +
				"ALTER TABLE t ADD CONSTRAINT fk FOREIGN KEY (p) REFERENCES u (id), CONSTRAINT pk PRIMARY KEY (id);",
			schemaName:   "dbo",
			expectedDDL:  "CREATE TABLE t (id int, p int);\nALTER TABLE t ADD CONSTRAINT pk PRIMARY KEY (id);",
			expectedDefs: []ForeignKeyDefinition{tableTToU},
		},
		{
			name: "unnamed foreign key after ADD COLUMN",
			definition: "CREATE TABLE t (id int);\n" +
				"ALTER TABLE t ADD COLUMN q int, ADD FOREIGN KEY (q) REFERENCES u (id);",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (id int);\nALTER TABLE t ADD COLUMN q int;",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "FK_t_u",
				SourceSchema:      "dbo",
				SourceTable:       "t",
				SourceColumns:     []string{"q"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "u",
				ReferencedColumns: []string{"id"},
				GeneratedName:     true,
			}},
		},
		{
			name: "alter table with only foreign key actions is removed whole",
			definition: "CREATE TABLE t (id int, p int, q int);\n" +
				"ALTER TABLE t ADD CONSTRAINT fk FOREIGN KEY (p) REFERENCES u (id), ADD CONSTRAINT fk_q FOREIGN KEY (q) REFERENCES v (id);",
			schemaName:  "dbo",
			expectedDDL: "CREATE TABLE t (id int, p int, q int);\n",
			expectedDefs: []ForeignKeyDefinition{tableTToU, {
				ConstraintName:    "fk_q",
				SourceSchema:      "dbo",
				SourceTable:       "t",
				SourceColumns:     []string{"q"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "v",
				ReferencedColumns: []string{"id"},
			}},
		},
		{
			name: "column-level foreign key",
			definition: "CREATE TABLE [dbo].[c] (\n" +
				"    id INT,\n" +
				"    p DECIMAL(10, 2) CONSTRAINT fk_c_p FOREIGN KEY REFERENCES [dbo].[p] (id) ON DELETE CASCADE,\n" +
				"    note INT\n" +
				")",
			schemaName: "dbo",
			expectedDDL: "CREATE TABLE [dbo].[c] (\n" +
				"    id INT,\n" +
				"    p DECIMAL(10, 2),\n" +
				"    note INT\n" +
				")",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "fk_c_p",
				SourceSchema:      "dbo",
				SourceTable:       "c",
				SourceColumns:     []string{"p"},
				ReferencedSchema:  "dbo",
				ReferencedTable:   "p",
				ReferencedColumns: []string{"id"},
				OnDelete:          "CASCADE",
			}},
		},
		{
			name:        "match type is kept apart from the other options",
			definition:  "CREATE TABLE c (id int, p int, CONSTRAINT fk FOREIGN KEY (p) REFERENCES p (id) MATCH FULL ON DELETE CASCADE DEFERRABLE)",
			schemaName:  "public",
			expectedDDL: "CREATE TABLE c (id int, p int)",
			expectedDefs: []ForeignKeyDefinition{{
				ConstraintName:    "fk",
				SourceSchema:      "public",
				SourceTable:       "c",
				SourceColumns:     []string{"p"},
				ReferencedSchema:  "public",
				ReferencedTable:   "p",
				ReferencedColumns: []string{"id"},
				Match:             "FULL",
				OnDelete:          "CASCADE",
				Options:           "DEFERRABLE",
			}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ddl, defs, invalid := Strip(tc.definition, tc.tableName, tc.schemaName)
			assert.Equal(t, tc.expectedDDL, ddl)
			assert.Equal(t, tc.expectedDefs, defs)
			var invalidMsgs []string
			for _, v := range invalid {
				invalidMsgs = append(invalidMsgs, v.Error())
			}
			assert.Equal(t, tc.expectedInvalid, invalidMsgs)

			// Stripping again finds nothing and changes nothing
			again, againDefs, _ := Strip(ddl, tc.tableName, tc.schemaName)
			assert.Equal(t, ddl, again)
			assert.Empty(t, againDefs)
		})
	}
}

func TestStrip_RemovesEveryValidClause(t *testing.T) {
	schemas := []string{"sales", "inventory", "hr"}
	var cols, fks []string
	for i, s := range schemas {
		col := "ref_" + s
		cols = append(cols, col+" INT")
		fks = append(fks, "CONSTRAINT [fk_"+s+"] FOREIGN KEY (["+col+"]) REFERENCES ["+s+"].[target] ([id])")
		if i == 1 {
			fks = append(fks, "FOREIGN KEY ("+col+") REFERENCES "+s+".other (id) ON DELETE SET DEFAULT")
		}
	}
	definition := "CREATE TABLE [dbo].[wide] (\n    " + strings.Join(append(cols, fks...), ",\n    ") + "\n)"

	ddl, defs, invalid := Strip(definition, "", "dbo")
	require.Empty(t, invalid)
	assert.Len(t, defs, 4)
	assert.NotContains(t, strings.ToUpper(ddl), "FOREIGN KEY")
	assert.Equal(t, "CREATE TABLE [dbo].[wide] (\n    ref_sales INT,\n    ref_inventory INT,\n    ref_hr INT\n)", ddl)
}

func TestStrip_ErrorCarriesClauseText(t *testing.T) {
	_, _, invalid := Strip("CREATE TABLE t (a INT, CONSTRAINT fk FOREIGN KEY (a) REFERENCES u (a, b))", "", "dbo")
	require.Len(t, invalid, 1)
	assert.Equal(t, "CONSTRAINT fk FOREIGN KEY (a) REFERENCES u (a, b)", invalid[0].Clause)
	assert.Equal(t, "DBO.T", invalid[0].Table)
}
