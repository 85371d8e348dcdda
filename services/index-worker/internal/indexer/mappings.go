package indexer

// Index mappings per entity type. Keyword fields back exact filters, text
// fields back fuzzy matching, single shard and no replicas for the expected
// index sizes.

const IngredientMapping = `{
  "settings": {
    "index": { "number_of_shards": 1, "number_of_replicas": 0 }
  },
  "mappings": {
    "properties": {
      "tenant_id": { "type": "keyword" },
      "id": { "type": "keyword" },
      "name": { "type": "text" },
      "internal_code": { "type": "keyword" },
      "synonyms": { "type": "text" },
      "tags": { "type": "keyword" },
      "updated_at": { "type": "date" }
    }
  }
}`

const RecipeMapping = `{
  "settings": {
    "index": { "number_of_shards": 1, "number_of_replicas": 0 }
  },
  "mappings": {
    "properties": {
      "tenant_id": { "type": "keyword" },
      "id": { "type": "keyword" },
      "name": { "type": "text" },
      "tags": { "type": "keyword" },
      "updated_at": { "type": "date" }
    }
  }
}`
